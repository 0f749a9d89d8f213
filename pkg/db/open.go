package db

import (
	"github.com/dgraph-io/badger/v3"
)

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}
