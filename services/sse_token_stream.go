package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// TokenStream pushes newly confirmed tokens of a user over server-sent events.
type TokenStream struct {
	DB        *gorm.DB
	PollEvery time.Duration
	log       *logger.Logger
}

func NewTokenStream(db *gorm.DB, baseLog *logger.Logger) *TokenStream {
	return &TokenStream{
		DB:        db,
		PollEvery: 2 * time.Second,
		log:       baseLog.With("service", "TokenStream"),
	}
}

// tokenCursor is the stream position: the newest pushed mint time plus the tokens
// already pushed at exactly that time.
type tokenCursor struct {
	at   time.Time
	seen map[string]struct{}
}

// NewTokensSince returns the user's tokens not yet pushed past cur, oldest first,
// and advances cur over them. Tokens sharing the cursor's mint time are still
// delivered when they commit after an earlier poll.
func (s *TokenStream) NewTokensSince(ctx context.Context, userID string, cur *tokenCursor) ([]models.SoulboundToken, error) {
	var rows []models.SoulboundToken
	err := s.DB.WithContext(ctx).
		Where("user_id = ? AND minted_at >= ?", userID, cur.at).
		Order("minted_at ASC, token_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("poll tokens", err)
	}

	tokens := make([]models.SoulboundToken, 0, len(rows))
	for _, t := range rows {
		if _, ok := cur.seen[t.TokenID]; ok {
			continue
		}
		if !t.MintedAt.Equal(cur.at) {
			cur.at = t.MintedAt
			cur.seen = map[string]struct{}{}
		}
		cur.seen[t.TokenID] = struct{}{}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

// startCursor positions a new stream after everything the user already holds.
func (s *TokenStream) startCursor(ctx context.Context, userID string) (*tokenCursor, error) {
	cur := &tokenCursor{seen: map[string]struct{}{}}
	var latest models.SoulboundToken
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("minted_at DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return cur, nil
	}
	if err != nil {
		return cur, err
	}

	var ids []string
	if err := s.DB.WithContext(ctx).
		Model(&models.SoulboundToken{}).
		Where("user_id = ? AND minted_at = ?", userID, latest.MintedAt).
		Pluck("token_id", &ids).Error; err != nil {
		return cur, err
	}
	cur.at = latest.MintedAt
	for _, id := range ids {
		cur.seen[id] = struct{}{}
	}
	return cur, nil
}

// StreamUserTokensSSE streams "achievement" events for the authenticated user.
func (s *TokenStream) StreamUserTokensSSE(c *fiber.Ctx) error {
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}
	userID = strings.Clone(userID)
	reqCtx := c.Context()

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reqCtx.SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx := context.Background()
		ticker := time.NewTicker(s.PollEvery)
		defer ticker.Stop()

		cursor, err := s.startCursor(ctx, userID)
		if err != nil {
			s.log.Warn("SSE init error", "user_id", userID, "error", err)
		}

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				tokens, err := s.NewTokensSince(ctx, userID, cursor)
				if err != nil {
					s.log.Warn("SSE query error", "user_id", userID, "error", err)
					continue
				}
				if len(tokens) == 0 {
					w.WriteString(":\n\n")
				}
				for _, t := range tokens {
					payload, _ := json.Marshal(t)
					fmt.Fprintf(w, "event: achievement\ndata: %s\n\n", payload)
				}
				if err := w.Flush(); err != nil {
					// Client disconnected
					return
				}

			case <-reqCtx.Done():
				return
			}
		}
	})

	return nil
}
