package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctoring/internal/config"
	"github.com/stemsi/exstem-proctoring/internal/database"
	"github.com/stemsi/exstem-proctoring/internal/logger"
	"github.com/stemsi/exstem-proctoring/internal/model"
	"github.com/stemsi/exstem-proctoring/internal/repository"
)

// Seeds a development course with one proctored quiz and a class of users.
// Every fifth user has a suspended enrolment and every tenth a suspended
// account, so status gating can be exercised locally.
func main() {
	var count int
	flag.IntVar(&count, "users", 30, "Number of users to create")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	dirRepo := repository.NewDirectoryRepository(pool)

	fmt.Printf("=== Seeding course with %d users ===\n", count)

	course := &model.Course{ShortName: "PROC101", FullName: "Proctored Assessment Sandbox", Visible: true}
	if err := dirRepo.CreateCourse(ctx, course); err != nil {
		log.Fatal().Err(err).Msg("Failed to create course")
	}
	quiz := &model.CourseModule{CourseID: course.ID, Name: "Final exam (proctored)", Proctored: true}
	if err := dirRepo.CreateModule(ctx, quiz); err != nil {
		log.Fatal().Err(err).Msg("Failed to create module")
	}
	practice := &model.CourseModule{CourseID: course.ID, Name: "Practice quiz", Proctored: false}
	if err := dirRepo.CreateModule(ctx, practice); err != nil {
		log.Fatal().Err(err).Msg("Failed to create module")
	}

	stamp := time.Now().Unix()
	users := make([]model.User, 0, count)
	for i := 1; i <= count; i++ {
		first, last := seedName(i)
		users = append(users, model.User{
			FirstName: first,
			LastName:  last,
			Email:     fmt.Sprintf("%s.%s.%d.%d@example.com", strings.ToLower(first), strings.ToLower(last), i, stamp),
			Suspended: i%10 == 0,
		})
	}
	ids, err := dirRepo.CreateUsers(ctx, users)
	if err != nil {
		log.Fatal().Err(err).Int("created", len(ids)).Msg("Failed to create users")
	}

	enrolments := make([]model.Enrolment, 0, len(ids))
	for i, id := range ids {
		status := model.EnrolmentActive
		if (i+1)%5 == 0 {
			status = model.EnrolmentSuspended
		}
		enrolments = append(enrolments, model.Enrolment{CourseID: course.ID, UserID: id, Status: status})
	}
	n, err := dirRepo.Enrol(ctx, enrolments)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enrol users")
	}

	seeded, err := dirRepo.UsersByIDs(ctx, ids)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read back users")
	}

	fmt.Printf("\nCourse %d (%s): proctored module %d, practice module %d\n", course.ID, course.ShortName, quiz.ID, practice.ID)
	fmt.Printf("Created %d users, %d enrolments\n", len(seeded), n)
	for _, u := range seeded[:min(5, len(seeded))] {
		fmt.Printf("  %d  %-24s %s\n", u.ID, u.FullName(), u.Email)
	}
}

var (
	firstNames = []string{"Budi", "Siti", "Andi", "Rina", "Joko", "Ayu", "Dodi", "Eka", "Gita", "Hendra"}
	lastNames  = []string{"Santoso", "Aminah", "Pratama", "Wati", "Susilo", "Lestari", "Kusuma", "Putri"}
)

func seedName(i int) (string, string) {
	return firstNames[i%len(firstNames)], lastNames[(i/len(firstNames))%len(lastNames)]
}
