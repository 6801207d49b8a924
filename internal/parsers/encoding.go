package parsers

import (
	"unicode/utf8"

	rerrors "invoice-reconciliation-service/pkg/errors"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// DecodePayload converts a raw statement payload to a UTF-8 string.
// Bank export tools in this market ship either UTF-8 or Shift_JIS;
// valid UTF-8 passes through, anything else is attempted as Shift_JIS.
func DecodePayload(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", rerrors.New(rerrors.CategoryParse, rerrors.CodeEncodingError,
			"statement payload is empty")
	}

	payload = stripBOM(payload)
	if utf8.Valid(payload) {
		return string(payload), nil
	}

	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), payload)
	if err != nil {
		return "", rerrors.Wrap(err, rerrors.CategoryParse, rerrors.CodeEncodingError,
			"payload is neither valid UTF-8 nor Shift_JIS")
	}
	return string(decoded), nil
}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}
