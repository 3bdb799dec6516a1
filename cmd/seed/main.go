package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

const slotDurationMinutes = 30

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 10)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSlots(context.Background(), pool, doctors, 7); err != nil {
		log.Fatalf("seed slots: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]scheduling.Doctor, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	windows := []scheduling.WorkingHours{
		{Start: "08:00", End: "16:00"},
		{Start: "09:00", End: "17:00"},
		{Start: "10:00", End: "14:00"},
		{Start: "13:00", End: "19:00"},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	doctors := make([]scheduling.Doctor, 0, count)
	for i := 0; i < count; i++ {
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		d := scheduling.Doctor{
			ID:           uuid.New(),
			Name:         gofakeit.Name(),
			Specialty:    &spec,
			WorkingHours: windows[gofakeit.Number(0, len(windows)-1)],
			IsActive:     true,
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, work_start, work_end, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, d.ID, d.Name, d.Specialty, d.WorkingHours.Start, d.WorkingHours.End, d.IsActive)
		if err != nil {
			return nil, err
		}

		doctors = append(doctors, d)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return doctors, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedSlots generates bookable slots for each doctor over the next N days
// using the same expansion and conflict-skipping insert as the API.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctors []scheduling.Doctor, days int) error {
	log.Printf("seeding slots for %d doctors over %d days", len(doctors), days)

	repo := scheduling.NewPgRepository(pool)
	today := time.Now()

	total := 0
	for _, d := range doctors {
		for day := 0; day < days; day++ {
			date := today.AddDate(0, 0, day)

			slots, err := scheduling.BuildSlots(&d, date, slotDurationMinutes)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				continue
			}

			created, err := repo.InsertSlots(ctx, slots)
			if err != nil {
				return err
			}
			total += created
		}
	}

	log.Printf("slots seeded: %d", total)
	return nil
}
