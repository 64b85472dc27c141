package db

import (
	"fmt"
	"log"
	"regexp"

	"persona-kb/internal/config"
	"persona-kb/internal/models"
	"persona-kb/internal/vectorindex"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var identifier = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm connects to postgres and migrates the relational and vector schema
func NewGorm(cfg *config.Config) (*GormDB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db, cfg.VectorTable, cfg.EmbeddingDimensions); err != nil {
		return nil, err
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// Migrate creates the sources and chunks tables and the vector index table.
// The vector table is created by hand because its column width is the
// configured embedding dimension.
func Migrate(db *gorm.DB, vectorTable string, dimensions int) error {
	if !identifier.MatchString(vectorTable) {
		return fmt.Errorf("invalid vector table name %q", vectorTable)
	}

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to enable pgvector extension: %w", err)
	}

	if err := db.AutoMigrate(&models.Source{}, &models.Chunk{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	for _, stmt := range vectorTableDDL(vectorTable, dimensions) {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to migrate vector table %s: %w", vectorTable, err)
		}
	}

	return nil
}

func vectorTableDDL(table string, dimensions int) []string {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id varchar(255) PRIMARY KEY,
			persona_id varchar(64) NOT NULL,
			source_id char(27) NOT NULL,
			embedding vector(%d) NOT NULL,
			text text NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}'
		)`, table, dimensions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_persona_source ON %s (persona_id, source_id)`, table, table),
	}
	// ivfflat indexes support at most 2000 dimensions
	if dimensions <= 2000 {
		statements = append(statements, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
			table, table, vectorindex.IVFFlatLists))
	}
	return statements
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
