package migrations

import "embed"

// Files содержит SQL-миграции, применяемые по возрастанию имени файла.
//
//go:embed *.sql
var Files embed.FS
