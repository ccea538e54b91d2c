package db

import "fmt"

// SchemaSQL defines the collection registry. Memory tables are defined per channel by CollectionSQL.
const SchemaSQL = `
    -- ==========================================================================
    -- COLLECTION REGISTRY
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS collection SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS channel ON collection TYPE string;
    DEFINE FIELD IF NOT EXISTS created ON collection TYPE datetime DEFAULT time::now();
`

// collectionTemplate defines one channel's memory table.
// %[1]s is the table name, %[2]d the embedding dimension.
const collectionTemplate = `
    DEFINE TABLE IF NOT EXISTS %[1]s SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS kind ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS importance ON %[1]s TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS explicitness ON %[1]s TYPE float DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS significance ON %[1]s TYPE string DEFAULT "None";
    DEFINE FIELD IF NOT EXISTS author ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS text ON %[1]s TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON %[1]s TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON %[1]s TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS %[1]s_kind ON %[1]s FIELDS kind;
    DEFINE INDEX IF NOT EXISTS %[1]s_created ON %[1]s FIELDS created;
    DEFINE INDEX IF NOT EXISTS %[1]s_embedding ON %[1]s FIELDS embedding HNSW DIMENSION %[2]d DIST COSINE TYPE F32;

    UPSERT type::record("collection", $name) SET channel = $channel;
`

// CollectionSQL returns the statements that create table with an HNSW index of the given dimension.
// table must already be a safe identifier (see models.CollectionName).
func CollectionSQL(table string, dimension int) string {
	return fmt.Sprintf(collectionTemplate, table, dimension)
}
