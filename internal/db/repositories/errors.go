package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// IsUniqueViolation reports whether err came from a PostgreSQL unique constraint
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
