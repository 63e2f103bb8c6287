package sqlstore

import (
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateKey(t *testing.T) {
	assert.False(t, isDuplicateKey(nil))

	// mysql duplicate entry is error number 1062; any other number is not
	// a duplicate regardless of message text.
	assert.True(t, isDuplicateKey(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'dup-1' for key 'PRIMARY'"}))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}))

	// wrapped driver errors still classify
	wrapped := errors.Join(errors.New("failed to create session"), &mysql.MySQLError{Number: 1062})
	assert.True(t, isDuplicateKey(wrapped))

	// generic fallback on message text
	assert.True(t, isDuplicateKey(errors.New("UNIQUE constraint failed: debate_sessions.id")))
	assert.False(t, isDuplicateKey(errors.New("connection reset by peer")))
}
