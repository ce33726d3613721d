package migrate

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaTemplate_QualifiesConfiguredSchema(t *testing.T) {
	stmt := fmt.Sprintf(schemaTemplate, "noetl_test")

	assert.Contains(t, stmt, "CREATE SCHEMA IF NOT EXISTS noetl_test")
	assert.Contains(t, stmt, "SET search_path TO noetl_test")
	for _, table := range []string{"event", "queue", "workload", "catalog", "runtime", "schedule"} {
		assert.True(t, strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS "+table+" "),
			"schema must create table %q", table)
	}
}
