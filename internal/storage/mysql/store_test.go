package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/victornm/trivia/internal/domain"
)

func TestFilter(t *testing.T) {
	tests := map[string]struct {
		filter domain.Filter
		assert func(t *testing.T, sql string)
	}{
		"no filter should select everything": {
			assert: func(t *testing.T, sql string) {
				assert.NotContains(t, sql, "WHERE")
				assert.Contains(t, sql, "ORDER BY id")
			},
		},

		"category should restrict by category": {
			filter: domain.Filter{CategoryID: 3},
			assert: func(t *testing.T, sql string) {
				assert.Contains(t, sql, "WHERE category = 3")
			},
		},

		"search should win over category": {
			filter: domain.Filter{CategoryID: 3, SearchTerm: "Title"},
			assert: func(t *testing.T, sql string) {
				assert.Contains(t, sql, "LOWER(question) LIKE")
				assert.Contains(t, sql, "%title%")
				assert.NotContains(t, sql, "category =")
			},
		},
	}

	db := dryRun(t)

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
				return tx.Model(&question{}).Scopes(filter(tt.filter)).Order("id").Find(&[]question{})
			})
			tt.assert(t, sql)
		})
	}
}

func TestLikeEscaper(t *testing.T) {
	assert.Equal(t, `50\%\_off\\`, likeEscaper.Replace(`50%_off\`))
}

// dryRun builds statements without a server.
func dryRun(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{
		DSN:                       "trivia:trivia@tcp(127.0.0.1:3306)/trivia",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	return db
}
