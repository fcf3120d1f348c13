package migrations

import "embed"

// FS carries the per dialect migration directories. go:embed cannot reach
// outside its own package, so the SQL lives here and the bootstrap selects a
// dialect with fs.Sub.
//
//go:embed postgres mysql sqllite3
var FS embed.FS
