package dbpatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// missingTableClient reports every table as missing and records statements.
type missingTableClient struct {
	Client
	recordingExecer
}

func (c *missingTableClient) HasTable(context.Context, string) (bool, error) {
	return false, nil
}

func (c *missingTableClient) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return c.recordingExecer.Exec(ctx, query, args...)
}

func TestPostgresCurrentSchema(t *testing.T) {
	cfg := Config{Driver: "pg", CurrentSchema: "app"}
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	t.Run("table names are qualified", func(t *testing.T) {
		assert.Equal(t, `"app"."patches"`, client.QuoteTable("patches"))
		assert.Equal(t, `"other"."patches"`, client.QuoteTable("other.patches"))
		assert.Equal(t, `"patches"`, client.QuoteIdentifier("patches"))
	})

	t.Run("ddl", func(t *testing.T) {
		schema := NewSchema()
		users := schema.CreateTable("users")
		users.AddColumn("id", TypeBigInt, AutoIncrement())
		users.SetPrimaryKey("id")
		posts := schema.CreateTable("posts")
		posts.AddColumn("id", TypeInteger)
		posts.AddColumn("user_id", TypeBigInt)
		posts.AddIndex("idx_posts_user", "user_id")
		posts.AddForeignKey(ForeignKey{
			Name:              "fk_posts_user",
			Columns:           []string{"user_id"},
			ReferencedTable:   "users",
			ReferencedColumns: []string{"id"},
		})

		stmts := Diff(nil, schema, client)
		require.NotEmpty(t, stmts)
		for _, stmt := range stmts {
			assert.NotContains(t, stmt, ` "posts"`, stmt)
			assert.NotContains(t, stmt, ` "users"`, stmt)
		}
		assert.Contains(t, stmts, `CREATE INDEX "idx_posts_user" ON "app"."posts" ("user_id")`)
		assert.Contains(t, stmts,
			`ALTER TABLE "app"."posts" ADD CONSTRAINT "fk_posts_user" FOREIGN KEY ("user_id") REFERENCES "app"."users" ("id")`)

		assert.Equal(t, `DROP TABLE "app"."posts"`, client.DropTableSQL("posts"))
		assert.Equal(t, `DROP INDEX "app"."idx_posts_user"`, client.DropIndexSQL("posts", posts.Index("idx_posts_user")))
	})

	t.Run("sequence lives in the current schema", func(t *testing.T) {
		from := &Column{Name: "id", Type: TypeInteger}
		to := &Column{Name: "id", Type: TypeInteger, AutoIncrement: true}
		assert.Equal(t, []string{
			`CREATE SEQUENCE IF NOT EXISTS "app"."posts_id_seq"`,
			`ALTER TABLE "app"."posts" ALTER COLUMN "id" SET DEFAULT nextval('"app"."posts_id_seq"')`,
		}, client.AlterColumnSQL("posts", from, to))
	})

	t.Run("patch table is created in the current schema", func(t *testing.T) {
		rec := &missingTableClient{Client: client}
		require.NoError(t, NewRegistry(rec, cfg).EnsureTable(context.Background()))
		require.Len(t, rec.stmts, 2)
		assert.Contains(t, rec.stmts[0], `CREATE TABLE "app"."patches"`)
		assert.Contains(t, rec.stmts[1], `ON "app"."patches" ("unique_name")`)
	})

	t.Run("qualified patch table is hidden from introspection", func(t *testing.T) {
		pg := NewPostgresClient(Config{PatchTable: "app.patches", CurrentSchema: "app"}, nil)
		assert.True(t, pg.ignored("patches"))
	})
}
