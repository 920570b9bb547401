package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/resonance-trajectory/internal/types"
)

// Seed users for local development. The trajectory endpoint accepts the
// first two.
const (
	SeedAdminID   = "user_admin"
	SeedTeacherID = "user_teacher"
	SeedFinanceID = "user_finance"
)

// SeedStudents is the number of demo students Seed creates
const SeedStudents = 20

// Seed fills an empty database with demo staff and students whose records
// span the 60 days before asOf. Student n gets steadily worse attendance and
// scores as n grows, so the demo covers every band. It does nothing when
// users already exist.
func Seed(ctx context.Context, repo *Repository, asOf time.Time) error {
	count, err := repo.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	slog.Info("Seeding database with demo data", "students", SeedStudents)

	now := time.Now().UTC()
	for _, u := range []User{
		{ID: SeedAdminID, Email: "admin@local", Role: RoleAdmin, Active: true, CreatedAt: now},
		{ID: SeedTeacherID, Email: "teacher@local", Role: RoleTeacher, Active: true, CreatedAt: now},
		{ID: SeedFinanceID, Email: "finance@local", Role: RoleFinance, Active: true, CreatedAt: now},
	} {
		u := u
		if err := repo.CreateUser(ctx, &u); err != nil {
			return err
		}
	}

	day := func(n int) time.Time { return asOf.AddDate(0, 0, -n) }

	for i := 1; i <= SeedStudents; i++ {
		id := fmt.Sprintf("student_%02d", i)
		if err := repo.CreateStudent(ctx, &Student{
			ID:          id,
			StudentCode: fmt.Sprintf("ST%03d", i),
			FullName:    fmt.Sprintf("Student %d", i),
		}); err != nil {
			return err
		}

		absentEvery := 22 - i
		for d := 1; d <= 60; d++ {
			status := types.StatusPresent
			switch {
			case d%absentEvery == 0:
				status = types.StatusAbsent
			case d%13 == 0:
				status = types.StatusLate
			}
			if err := repo.RecordAttendance(ctx, id, types.AttendanceEvent{
				ID:     fmt.Sprintf("att_%s_%d", id, d),
				Date:   day(d),
				Status: status,
			}); err != nil {
				return err
			}
		}

		for w := 0; w < 8; w++ {
			score := 96 - 3*float64(i) + float64(w%3)*2
			if score < 5 {
				score = 5
			}
			subject := "Mathematics"
			if w%2 == 1 {
				subject = "Science"
			}
			if err := repo.RecordAssessment(ctx, id, types.AssessmentEvent{
				ID:       fmt.Sprintf("score_%s_%d", id, w),
				Date:     day(2 + 7*w),
				Subject:  subject,
				Score:    score,
				MaxScore: 100,
			}); err != nil {
				return err
			}
		}

		if err := seedNotes(ctx, repo, id, i, day); err != nil {
			return err
		}
	}
	return nil
}

func seedNotes(ctx context.Context, repo *Repository, id string, i int, day func(int) time.Time) error {
	var notes []types.NoteEvent
	switch {
	case i <= 5:
		notes = append(notes,
			types.NoteEvent{Date: day(4), Tags: []string{types.TagPraise}, Text: "Excellent project presentation"},
			types.NoteEvent{Date: day(18), Tags: []string{types.TagImprovement}, Text: "Homework quality improving"},
		)
	case i >= 14:
		for d := 3; d <= 30; d += 9 {
			notes = append(notes, types.NoteEvent{Date: day(d), Tags: []string{types.TagMissingWork}, Text: "Homework not submitted"})
		}
		notes = append(notes, types.NoteEvent{Date: day(6), Tags: []string{types.TagConcern, types.TagBehavior}, Text: "Disengaged in class"})
	}
	if i%5 == 0 {
		notes = append(notes, types.NoteEvent{
			Date:   day(20),
			Kind:   types.NoteKindIntervention,
			Tags:   []string{"TUTORING"},
			Text:   "Weekly tutoring session",
			Status: "COMPLETED",
		})
	}

	for n, note := range notes {
		note.ID = fmt.Sprintf("note_%s_%d", id, n)
		if err := repo.RecordNote(ctx, id, note); err != nil {
			return err
		}
	}
	return nil
}
