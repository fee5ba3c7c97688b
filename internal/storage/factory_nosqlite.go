//go:build nosqlite

package storage

import "fmt"

func newSQLiteStore(_ string) (Store, error) {
	return nil, fmt.Errorf("sqlite backend unavailable in this build; rebuild without -tags nosqlite")
}

func DefaultStoreKind() string {
	return "memory"
}
