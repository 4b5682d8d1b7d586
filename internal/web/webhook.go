package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const signatureHeader = "X-Notion-Signature"

// maxWebhookBody caps webhook request bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// Webhook is the Doc-store change notification ingress. Verification
// messages bootstrap the shared secret; everything else must carry a valid
// HMAC signature over the raw body.
func (h *Handlers) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed JSON"})
		return
	}

	// Verification handshake: store the token and echo it back. The
	// delivery is unsigned because the secret does not exist yet.
	if token, ok := payload["verification_token"].(string); ok && token != "" {
		if err := h.store.SetSetting("webhook_verification_token", token); err != nil {
			log.Printf("[webhook] failed to store verification token: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store token"})
			return
		}
		log.Println("[webhook] verification token stored")
		c.JSON(http.StatusOK, gin.H{"verification_token": token})
		return
	}

	if !h.verifySignature(c.GetHeader(signatureHeader), body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	pageIDs, eventTypes := walkPayload(payload)

	// Schema-level events invalidate more than the named pages; fall back
	// to a background full sync, joining one already in flight.
	for _, eventType := range eventTypes {
		if strings.HasPrefix(eventType, "database.") || strings.HasPrefix(eventType, "data_source.") {
			log.Printf("[webhook] %s event, scheduling full sync", eventType)
			h.engine.ScheduleFullSync("webhook")
			break
		}
	}

	updated := []string{}
	if len(pageIDs) > 0 {
		updated, err = h.engine.SyncPages(c.Request.Context(), pageIDs)
		if err != nil {
			log.Printf("[webhook] targeted sync failed: %v", err)
		}
		if updated == nil {
			updated = []string{}
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "updated": updated})
}

// verifySignature checks sha256=<hex> against the stored verification token.
// No stored token means no event can be authenticated yet.
func (h *Handlers) verifySignature(header string, body []byte) bool {
	secret, ok := h.store.GetSettingString("webhook_verification_token")
	if !ok || secret == "" {
		return false
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok || provided == "" {
		return false
	}
	providedRaw, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), providedRaw)
}

// walkPayload recursively extracts page identifiers and event type strings
// from a webhook payload. Page ids are normalized to canonical dashed UUID
// form and deduplicated preserving first-seen order.
func walkPayload(payload map[string]any) (pageIDs []string, eventTypes []string) {
	seen := make(map[string]struct{})

	var walk func(value any, key string)
	walk = func(value any, key string) {
		switch v := value.(type) {
		case map[string]any:
			// {object:"page", id:...} names a page regardless of the key.
			if obj, ok := v["object"].(string); ok && obj == "page" {
				if id, ok := v["id"].(string); ok {
					addPageID(id, seen, &pageIDs)
				}
			}
			for childKey, child := range v {
				walk(child, childKey)
			}
		case []any:
			for _, child := range v {
				walk(child, key)
			}
		case string:
			switch key {
			case "id", "page_id", "pageId":
				addPageID(v, seen, &pageIDs)
			case "type":
				eventTypes = append(eventTypes, strings.ToLower(v))
			}
		}
	}
	walk(payload, "")

	return pageIDs, eventTypes
}

// addPageID appends a normalized page id, skipping values that are not
// UUIDs and ids already collected.
func addPageID(raw string, seen map[string]struct{}, out *[]string) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return
	}
	id := parsed.String()
	if _, dup := seen[id]; dup {
		return
	}
	seen[id] = struct{}{}
	*out = append(*out, id)
}
