package diagdb

import (
	"context"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

type migration struct {
	Name string
	Up   func(context.Context, *sqlx.Tx) error
	Down func(context.Context, *sqlx.Tx) error
}

var migrations = map[uint64]migration{}

func migrate(up, down func(context.Context, *sqlx.Tx) error) {
	_, fn, _, ok := runtime.Caller(1)
	if !ok {
		panic("add migration: failed to get filename")
	}
	fn = path.Base(strings.ReplaceAll(fn, `\`, `/`))

	n, _, ok := strings.Cut(fn, "_")
	if !ok {
		panic("add migration: failed to parse filename")
	}
	v, err := strconv.ParseUint(n, 10, 64)
	if err != nil {
		panic("add migration: failed to parse filename: " + err.Error())
	}
	if v == 0 {
		panic("add migration: version must not be 0")
	}
	migrations[v] = migration{strings.TrimSuffix(fn, ".go"), up, down}
}
