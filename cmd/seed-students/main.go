package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/database"
	"github.com/invigilo/invigilo-backend/internal/logger"
	"github.com/invigilo/invigilo-backend/internal/model"
	"github.com/invigilo/invigilo-backend/internal/repository"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// Seeds demo student accounts for load testing a proctored exam. Every
// account shares one password so test clients are trivial to script.
func main() {
	var (
		count      int
		department string
		password   string
	)
	flag.IntVar(&count, "count", 50, "Number of students to create")
	flag.StringVar(&department, "department", "Computer Science", "Department for the seeded students")
	flag.StringVar(&password, "password", "student123", "Shared password for all seeded students")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)
	studentService := service.NewStudentService(studentRepo)

	fmt.Printf("=== Seeding %d Students ===\n", count)

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	created := 0
	for i := 1; i <= count; i++ {
		student := &model.Student{
			Email:        fmt.Sprintf("student%03d@invigilo.test", i),
			Name:         fmt.Sprintf("Test Student %03d", i),
			Department:   department,
			PasswordHash: string(hashed),
		}

		if err := studentService.Create(ctx, student); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				continue
			}
			log.Fatal().Err(err).Int("index", i).Msg("Failed to create student")
		}
		created++
	}

	fmt.Printf("Done. Created %d students (password: %s)\n", created, password)
}
