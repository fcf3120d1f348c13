package repository

import (
	"database/sql"
	"errors"

	"github.com/sentinelwatch/sentinel/internal/config"
	"github.com/sentinelwatch/sentinel/pkg/sentinel/domain"
)

// WorkflowDefinitionRepository stores the registered workflow types with
// their description and rendered mermaid flow chart. Rows are written at
// engine registration and read back by the definitions API.
type WorkflowDefinitionRepository struct {
	db *sql.DB
}

func NewWorkflowDefinitionRepository(db *sql.DB) *WorkflowDefinitionRepository {
	return &WorkflowDefinitionRepository{db: db}
}

// Save upserts a definition by its unique name.
func (r *WorkflowDefinitionRepository) Save(def *domain.WorkflowDefinition) error {
	insert := `
		INSERT INTO workflow_definitions (name, description, created, updated, flow_chart)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `)
	`
	switch config.GetSystemSettingString(config.DATABASE_TYPE) {
	case config.DATABASE_TYPE_POSTGRES, config.DATABASE_TYPE_SQLLITE:
		insert += `
		ON CONFLICT (name)
		DO UPDATE SET description = EXCLUDED.description,
			updated = EXCLUDED.updated,
			flow_chart = EXCLUDED.flow_chart
		`
	case config.DATABASE_TYPE_MYSQL:
		insert += `
		ON DUPLICATE KEY UPDATE description = VALUES(description),
			updated = VALUES(updated),
			flow_chart = VALUES(flow_chart)
		`
	default:
		panic("no workflow_definitions upsert for database type " + config.GetSystemSettingString(config.DATABASE_TYPE))
	}

	_, err := r.db.Exec(insert, def.Name, def.Description, def.Created, def.Updated, def.FlowChart)
	return err
}

// FindByName fetches a definition by name. A miss returns (nil, nil).
func (r *WorkflowDefinitionRepository) FindByName(name string) (*domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions WHERE name = ` + placeholder(1) + `
	`
	var def domain.WorkflowDefinition
	err := r.db.QueryRow(query, name).Scan(
		&def.Name,
		&def.Description,
		&def.Created,
		&def.Updated,
		&def.FlowChart,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// FindAll returns every definition ordered by name.
func (r *WorkflowDefinitionRepository) FindAll() (*[]domain.WorkflowDefinition, error) {
	query := `
		SELECT name, description, created, updated, flow_chart
		FROM workflow_definitions
		ORDER BY name
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]domain.WorkflowDefinition, 0)
	for rows.Next() {
		var d domain.WorkflowDefinition
		if err := rows.Scan(&d.Name, &d.Description, &d.Created, &d.Updated, &d.FlowChart); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &defs, nil
}
