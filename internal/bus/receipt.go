package bus

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/go-ess/ess-queue-ess/internal/buserrors"
)

// receiptHandle is the decoded form of spec §3's ReceiptHandle: a
// base64-encoded "<uuid> <queueArn> <messageId> <epochSeconds>".
type receiptHandle struct {
	token     string
	queueArn  string
	messageID string
	issuedAt  int64
}

func newReceiptHandle(queueArn, messageID string, issuedAtUnix int64) string {
	raw := strings.Join([]string{uuid.New().String(), queueArn, messageID, strconv.FormatInt(issuedAtUnix, 10)}, " ")
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeReceiptHandle validates the encoding before any state mutation,
// per spec §3: "the encoding is validated before any state mutation."
func decodeReceiptHandle(encoded string) (receiptHandle, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return receiptHandle{}, buserrors.New(buserrors.CodeReceiptHandleInvalid, "malformed receipt handle")
	}
	parts := strings.Split(string(raw), " ")
	if len(parts) != 4 {
		return receiptHandle{}, buserrors.New(buserrors.CodeReceiptHandleInvalid, "malformed receipt handle")
	}
	issuedAt, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return receiptHandle{}, buserrors.New(buserrors.CodeReceiptHandleInvalid, "malformed receipt handle")
	}
	return receiptHandle{
		token:     parts[0],
		queueArn:  parts[1],
		messageID: parts[2],
		issuedAt:  issuedAt,
	}, nil
}
