package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/punchamoorthee/loanledger/internal/bootstrap"
	"github.com/punchamoorthee/loanledger/internal/config"
	"github.com/punchamoorthee/loanledger/internal/domain"
	"github.com/punchamoorthee/loanledger/internal/store"
)

// Manifest lists the seeded ids so the benchmark can target them.
type Manifest struct {
	Members []uuid.UUID `json:"members"`
	Books   []uuid.UUID `json:"books"`
}

func main() {
	totalMembers := flag.Int("members", 1000, "Members to create")
	totalBooks := flag.Int("books", 200, "Books to create")
	copies := flag.Int("copies", 3, "Copies per book")
	out := flag.String("out", "seed.json", "Where to write the seeded ids")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Driver == config.DriverMemory {
		log.Fatal("seeding the memory driver has no effect on other processes")
	}

	ctx := context.Background()
	engine, err := bootstrap.OpenEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Unable to open store: %v", err)
	}
	defer engine.Close()

	log.Println("--- Seeding Database ---")

	now := time.Now().UTC()
	members := make([]domain.Member, *totalMembers)
	for i := range members {
		members[i] = domain.Member{
			ID:        uuid.New(),
			FullName:  fmt.Sprintf("Member %04d", i+1),
			Email:     fmt.Sprintf("member%04d-%d@loanledger.local", i+1, now.Unix()),
			CreatedAt: now,
		}
	}
	books := make([]domain.Book, *totalBooks)
	for i := range books {
		books[i] = domain.Book{
			ID:              uuid.New(),
			Title:           fmt.Sprintf("Volume %04d", i+1),
			TotalCopies:     int32(*copies),
			AvailableCopies: int32(*copies),
			CreatedAt:       now,
		}
	}

	if pg, ok := engine.(*store.Store); ok {
		err = copyIn(ctx, pg, members, books)
	} else {
		err = insertEach(ctx, engine, members, books)
	}
	if err != nil {
		log.Fatalf("Bulk insert failed: %v", err)
	}

	manifest := Manifest{}
	for _, m := range members {
		manifest.Members = append(manifest.Members, m.ID)
	}
	for _, b := range books {
		manifest.Books = append(manifest.Books, b.ID)
	}
	body, err := jsoniter.MarshalIndent(manifest, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*out, body, 0o644); err != nil {
		log.Fatal(err)
	}

	log.Printf("Successfully seeded %d members and %d books (manifest: %s).", len(members), len(books), *out)
}

// copyIn uses COPY, the fastest path into Postgres.
func copyIn(ctx context.Context, s *store.Store, members []domain.Member, books []domain.Book) error {
	memberRows := make([][]interface{}, 0, len(members))
	for _, m := range members {
		memberRows = append(memberRows, []interface{}{m.ID, m.FullName, m.Email, m.CreatedAt})
	}
	if _, err := s.Db.CopyFrom(ctx,
		pgx.Identifier{"members"},
		[]string{"id", "full_name", "email", "created_at"},
		pgx.CopyFromRows(memberRows),
	); err != nil {
		return fmt.Errorf("copy members: %w", err)
	}

	bookRows := make([][]interface{}, 0, len(books))
	for _, b := range books {
		bookRows = append(bookRows, []interface{}{b.ID, b.Title, b.TotalCopies, b.AvailableCopies, b.CreatedAt})
	}
	if _, err := s.Db.CopyFrom(ctx,
		pgx.Identifier{"books"},
		[]string{"id", "title", "total_copies", "available_copies", "created_at"},
		pgx.CopyFromRows(bookRows),
	); err != nil {
		return fmt.Errorf("copy books: %w", err)
	}
	return nil
}

func insertEach(ctx context.Context, c store.Catalog, members []domain.Member, books []domain.Book) error {
	for i := range members {
		if err := c.CreateMember(ctx, &members[i]); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	for i := range books {
		if err := c.CreateBook(ctx, &books[i]); err != nil {
			return fmt.Errorf("insert book: %w", err)
		}
	}
	return nil
}
