package sources

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/harun/mnemo/pkg/memory"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultEventLimit is the number of most recent events indexed
const DefaultEventLimit = 100

// OpenRecordsDB opens the database holding lessons, events and SOPs.
// driver is "postgres" or "sqlite".
func OpenRecordsDB(driver, dsn string) (*sql.DB, error) {
	name, err := sqlDriverName(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, &memory.ConfigurationError{Op: "records database", Err: fmt.Errorf("dsn is required for driver %q", driver)}
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open records database: %w", err)
	}
	return db, nil
}

func sqlDriverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	}
	return "", &memory.ConfigurationError{Op: "records database", Err: fmt.Errorf("unsupported driver %q (must be postgres or sqlite)", driver)}
}

// RecordAdapters returns the lesson, event and SOP adapters over db
func RecordAdapters(db *sql.DB, eventLimit int) []memory.SourceAdapter {
	return []memory.SourceAdapter{
		&Lessons{DB: db},
		&Events{DB: db, Limit: eventLimit},
		&Procedures{DB: db},
	}
}

// Lessons reads the lessons table
type Lessons struct {
	DB *sql.DB
}

func (l *Lessons) Type() memory.SourceType {
	return memory.SourceLesson
}

func (l *Lessons) Load(ctx context.Context) ([]memory.Source, []error, error) {
	rows, err := l.DB.QueryContext(ctx, "SELECT id, lesson, context FROM lessons ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query lessons: %w", err)
	}
	defer rows.Close()

	var out []memory.Source
	var dataErrs []error
	for rows.Next() {
		var id any
		var lesson, lessonContext sql.NullString
		if err := rows.Scan(&id, &lesson, &lessonContext); err != nil {
			return nil, nil, fmt.Errorf("failed to scan lesson: %w", err)
		}

		sourceID := "lesson:" + formatID(id)
		if !lesson.Valid || strings.TrimSpace(lesson.String) == "" {
			dataErrs = append(dataErrs, &memory.DataError{SourceType: memory.SourceLesson, SourceID: sourceID, Err: fmt.Errorf("lesson text is empty")})
			continue
		}

		out = append(out, memory.Source{
			Type: memory.SourceLesson,
			ID:   sourceID,
			Text: LessonContent(lesson.String, lessonContext.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read lessons: %w", err)
	}

	return out, dataErrs, nil
}

// LessonContent renders the canonical text of a lesson
func LessonContent(lesson, lessonContext string) string {
	content := "Lesson: " + lesson
	if lessonContext != "" {
		content += "\nContext: " + lessonContext
	}
	return content
}

// Events reads the most recent events
type Events struct {
	DB    *sql.DB
	Limit int
}

func (e *Events) Type() memory.SourceType {
	return memory.SourceEvent
}

func (e *Events) Load(ctx context.Context) ([]memory.Source, []error, error) {
	limit := e.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	query := fmt.Sprintf("SELECT id, title, description, event_date FROM events ORDER BY event_date DESC LIMIT %d", limit)
	rows, err := e.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []memory.Source
	var dataErrs []error
	for rows.Next() {
		var id, date any
		var title, description sql.NullString
		if err := rows.Scan(&id, &title, &description, &date); err != nil {
			return nil, nil, fmt.Errorf("failed to scan event: %w", err)
		}

		sourceID := "event:" + formatID(id)
		if !title.Valid || strings.TrimSpace(title.String) == "" {
			dataErrs = append(dataErrs, &memory.DataError{SourceType: memory.SourceEvent, SourceID: sourceID, Err: fmt.Errorf("event title is empty")})
			continue
		}

		out = append(out, memory.Source{
			Type: memory.SourceEvent,
			ID:   sourceID,
			Text: EventContent(formatDate(date), title.String, description.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read events: %w", err)
	}

	return out, dataErrs, nil
}

// EventContent renders the canonical text of an event
func EventContent(date, title, description string) string {
	content := fmt.Sprintf("Event (%s): %s", date, title)
	if description != "" {
		content += "\n" + description
	}
	return content
}

// Procedures reads the sops table
type Procedures struct {
	DB *sql.DB
}

func (p *Procedures) Type() memory.SourceType {
	return memory.SourceProcedure
}

func (p *Procedures) Load(ctx context.Context) ([]memory.Source, []error, error) {
	rows, err := p.DB.QueryContext(ctx, "SELECT id, name, description, steps FROM sops ORDER BY id")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query sops: %w", err)
	}
	defer rows.Close()

	var out []memory.Source
	var dataErrs []error
	for rows.Next() {
		var id, steps any
		var name, description sql.NullString
		if err := rows.Scan(&id, &name, &description, &steps); err != nil {
			return nil, nil, fmt.Errorf("failed to scan sop: %w", err)
		}

		rawID := formatID(id)
		sourceID := "sop:" + rawID

		parsed, err := memory.ParseSteps(rawBytes(steps))
		if err != nil {
			dataErrs = append(dataErrs, &memory.DataError{SourceType: memory.SourceProcedure, SourceID: sourceID, Err: err})
			continue
		}

		proc := memory.Procedure{
			ID:          rawID,
			Name:        name.String,
			Description: description.String,
			Steps:       parsed,
		}
		out = append(out, memory.Source{
			Type: memory.SourceProcedure,
			ID:   sourceID,
			Text: proc.Content(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read sops: %w", err)
	}

	return out, dataErrs, nil
}

func formatID(v any) string {
	switch id := v.(type) {
	case []byte:
		return string(id)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

func formatDate(v any) string {
	switch d := v.(type) {
	case time.Time:
		if d.Hour() == 0 && d.Minute() == 0 && d.Second() == 0 && d.Nanosecond() == 0 {
			return d.Format("2006-01-02")
		}
		return d.Format("2006-01-02 15:04:05")
	case []byte:
		return string(d)
	case nil:
		return "unknown date"
	default:
		return fmt.Sprint(d)
	}
}

func rawBytes(v any) []byte {
	switch s := v.(type) {
	case []byte:
		return s
	case string:
		return []byte(s)
	case nil:
		return nil
	default:
		return []byte(fmt.Sprint(s))
	}
}
