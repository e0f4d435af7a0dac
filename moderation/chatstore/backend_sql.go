package chatstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// one row per chat; the configuration itself is stored as a JSON document
type ChatRow struct {
	ChatID    int64 `gorm:"primaryKey;autoIncrement:false"`
	Config    string
	UpdatedAt time.Time
}

type SeenUser struct {
	UserID int64 `gorm:"primaryKey;autoIncrement:false"`
}

type SeenGroup struct {
	ChatID int64 `gorm:"primaryKey;autoIncrement:false"`
}

// Persists state in a SQL database (sqlite or postgres) through gorm.
type SQLBackend struct {
	db *gorm.DB
}

var _ Backend = (*SQLBackend)(nil)

// Opens a database from a URL of the form "sqlite://path/to/file.db" or "postgres://...".
func OpenDatabase(dburl string, logger *slog.Logger) (*gorm.DB, error) {
	var dial gorm.Dialector
	isSqlite := false
	if strings.HasPrefix(dburl, "sqlite://") {
		sqliteSuffix := dburl[len("sqlite://"):]
		// if this isn't ":memory:", ensure that directory exists (eg, if db file is being initialized)
		if !strings.Contains(sqliteSuffix, ":memory:") {
			if err := os.MkdirAll(filepath.Dir(sqliteSuffix), os.ModePerm); err != nil {
				return nil, err
			}
		}
		dial = sqlite.Open(sqliteSuffix)
		isSqlite = true
	} else if strings.HasPrefix(dburl, "postgresql://") || strings.HasPrefix(dburl, "postgres://") {
		// can pass entire URL, with prefix, to gorm driver
		dial = postgres.Open(dburl)
	} else {
		return nil, fmt.Errorf("unsupported or unrecognized database URL scheme")
	}

	if logger == nil {
		logger = slog.Default()
	}
	db, err := gorm.Open(dial, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 slogGorm.New(slogGorm.WithLogger(logger)),
	})
	if err != nil {
		return nil, err
	}

	if isSqlite {
		sqldb, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
			return nil, err
		}
		if err := db.Exec("PRAGMA synchronous=normal;").Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

func NewSQLBackend(db *gorm.DB) (*SQLBackend, error) {
	if err := db.AutoMigrate(&ChatRow{}, &SeenUser{}, &SeenGroup{}); err != nil {
		return nil, fmt.Errorf("migrating moderation tables: %w", err)
	}
	return &SQLBackend{db: db}, nil
}

func (b *SQLBackend) Load(ctx context.Context) (*Document, error) {
	db := b.db.WithContext(ctx)

	var rows []ChatRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	var users []SeenUser
	if err := db.Find(&users).Error; err != nil {
		return nil, err
	}
	var groups []SeenGroup
	if err := db.Find(&groups).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 && len(users) == 0 && len(groups) == 0 {
		return nil, ErrNoDocument
	}

	doc := NewDocument()
	for _, row := range rows {
		var conf ChatConfig
		if err := json.Unmarshal([]byte(row.Config), &conf); err != nil {
			return nil, fmt.Errorf("parsing chat %d from database: %w", row.ChatID, err)
		}
		doc.Chats[row.ChatID] = &conf
	}
	for _, u := range users {
		doc.Users[u.UserID] = true
	}
	for _, g := range groups {
		doc.Groups[g.ChatID] = true
	}
	doc.normalize()
	return doc, nil
}

func (b *SQLBackend) Save(ctx context.Context, doc *Document) error {
	now := time.Now()
	rows := make([]ChatRow, 0, len(doc.Chats))
	for chatID, conf := range doc.Chats {
		raw, err := json.Marshal(conf)
		if err != nil {
			return fmt.Errorf("encoding chat %d: %w", chatID, err)
		}
		rows = append(rows, ChatRow{ChatID: chatID, Config: string(raw), UpdatedAt: now})
	}
	users := make([]SeenUser, 0, len(doc.Users))
	for id := range doc.Users {
		users = append(users, SeenUser{UserID: id})
	}
	groups := make([]SeenGroup, 0, len(doc.Groups))
	for id := range doc.Groups {
		groups = append(groups, SeenGroup{ChatID: id})
	}

	// the document replaces everything stored; rows missing from it (including unreadable ones) are dropped
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&ChatRow{}, &SeenUser{}, &SeenGroup{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chat_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"config", "updated_at"}),
			}).CreateInBatches(&rows, 200).Error; err != nil {
				return err
			}
		}
		if len(users) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&users, 500).Error; err != nil {
				return err
			}
		}
		if len(groups) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&groups, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *SQLBackend) Close() error {
	sqldb, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}
