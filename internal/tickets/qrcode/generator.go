package qrcode

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CodeLength is the length of a hex-encoded SHA-256 secure code.
const CodeLength = 64

const consultPath = "/tickets/consult"

type Generator struct {
	secret  []byte
	baseURL string
	random  io.Reader
	now     func() time.Time
}

func NewGenerator(secret, publicBaseURL string) *Generator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	return &Generator{
		secret:  hashed[:],
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		random:  rand.Reader,
		now:     time.Now,
	}
}

// GenerateSecureCode digests the purchase, the ticket number, a nanosecond
// timestamp, 32 bytes of crypto/rand output and the server secret. The random
// component alone makes codes infeasible to predict.
func (g *Generator) GenerateSecureCode(purchaseID string, ticketNumber int) (string, error) {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(g.random, nonce); err != nil {
		return "", fmt.Errorf("failed to read random nonce: %w", err)
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(g.now().UnixNano()))

	h := sha256.New()
	h.Write([]byte(purchaseID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ticketNumber)))
	h.Write([]byte{0})
	h.Write(ts[:])
	h.Write(nonce)
	h.Write(g.secret)

	return hex.EncodeToString(h.Sum(nil)), nil
}

// PayloadURL is what gets encoded into the QR image: a link carrying only the code.
func (g *Generator) PayloadURL(code string) string {
	return g.baseURL + consultPath + "?code=" + url.QueryEscape(code)
}

// CodeFromPayload accepts either a bare secure code or a scanned payload URL.
func CodeFromPayload(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if IsSecureCode(raw) {
		return strings.ToLower(raw), true
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "", false
	}
	code := u.Query().Get("code")
	if !IsSecureCode(code) {
		return "", false
	}
	return strings.ToLower(code), true
}

func IsSecureCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
