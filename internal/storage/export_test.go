package storage

import "github.com/jmoiron/sqlx"

func (s *SQLBlobStore) DB() *sqlx.DB { return s.db }
