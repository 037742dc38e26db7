package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/utils"
)

const mintServiceName = "minting"

// MintServiceClient talks to the chain gateway that mints soulbound tokens.
//
//	POST /mints                                    -> 202 {"tx_reference"}; 409 when already minted
//	GET  /mints/{tx}                               -> {"status": pending|confirmed|failed, "token_id"}
//	GET  /tokens?owner=..&achievement_id=..        -> 200 token; 404 when none
type MintServiceClient struct {
	BaseURL   string
	Token     string
	Client    *http.Client
	PollEvery time.Duration
	log       *logger.Logger
}

func NewMintServiceClient(baseURL, token string, baseLog *logger.Logger) *MintServiceClient {
	return &MintServiceClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		PollEvery: 2 * time.Second,
		Client:    utils.NewHTTPClient(15 * time.Second),
		log:       baseLog.With("service", "MintServiceClient"),
	}
}

type mintRequest struct {
	Owner         string `json:"owner"`
	MetadataURI   string `json:"metadata_uri"`
	AchievementID string `json:"achievement_id"`
}

type mintResponse struct {
	TxReference string `json:"tx_reference"`
}

type mintStatusResponse struct {
	Status  string `json:"status"`
	TokenID string `json:"token_id"`
	Error   string `json:"error"`
}

func (c *MintServiceClient) Mint(ctx context.Context, owner, metadataURI, achievementID string) (string, error) {
	body, _ := json.Marshal(mintRequest{Owner: owner, MetadataURI: metadataURI, AchievementID: achievementID})

	status, raw, err := c.do(ctx, http.MethodPost, c.BaseURL+"/mints", body)
	if err != nil {
		return "", err
	}
	switch {
	case status == http.StatusConflict:
		return "", ErrAlreadyMinted
	case status == http.StatusOK || status == http.StatusCreated || status == http.StatusAccepted:
	default:
		return "", classifyStatus(status, raw)
	}

	var out mintResponse
	if err := json.Unmarshal(raw, &out); err != nil || out.TxReference == "" {
		return "", Transient(mintServiceName, fmt.Errorf("unreadable mint response: %s", truncateBody(raw)))
	}
	return out.TxReference, nil
}

// AwaitConfirmation polls the transaction until it resolves or ctx expires.
func (c *MintServiceClient) AwaitConfirmation(ctx context.Context, txReference string) (*MintConfirmation, error) {
	u := c.BaseURL + "/mints/" + url.PathEscape(txReference)
	ticker := time.NewTicker(c.PollEvery)
	defer ticker.Stop()

	for {
		status, raw, err := c.do(ctx, http.MethodGet, u, nil)
		if err != nil && ctx.Err() != nil {
			return nil, Transient(mintServiceName, fmt.Errorf("confirmation of %s timed out: %w", txReference, ctx.Err()))
		}
		switch {
		case err == nil && status == http.StatusNotFound:
			// A fresh broadcast may not be indexed yet.
			c.log.Debug("Transaction not indexed yet", "tx_reference", txReference)
		case err == nil && status != http.StatusOK:
			return nil, classifyStatus(status, raw)
		case err == nil:
			var out mintStatusResponse
			if err := json.Unmarshal(raw, &out); err != nil {
				return nil, Transient(mintServiceName, fmt.Errorf("unreadable status response: %s", truncateBody(raw)))
			}
			switch out.Status {
			case "confirmed":
				return &MintConfirmation{TokenID: out.TokenID, Confirmed: true}, nil
			case "failed":
				c.log.Warn("Mint transaction failed on chain", "tx_reference", txReference, "error", out.Error)
				return &MintConfirmation{Confirmed: false}, nil
			}
		default:
			c.log.Debug("Confirmation poll failed, retrying", "tx_reference", txReference, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, Transient(mintServiceName, fmt.Errorf("confirmation of %s timed out: %w", txReference, ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (c *MintServiceClient) FindToken(ctx context.Context, owner, achievementID string) (*ExternalToken, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("achievement_id", achievementID)

	status, raw, err := c.do(ctx, http.MethodGet, c.BaseURL+"/tokens?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, raw)
	}

	var tok ExternalToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, Transient(mintServiceName, fmt.Errorf("unreadable token response: %s", truncateBody(raw)))
	}
	if tok.TokenID == "" {
		return nil, nil
	}
	if tok.Owner == "" {
		tok.Owner = owner
	}
	return &tok, nil
}

// do sends the request; transport failures come back as TransientExternalError.
func (c *MintServiceClient) do(ctx context.Context, method, u string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return 0, nil, Permanent(mintServiceName, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, nil, Transient(mintServiceName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, Transient(mintServiceName, err)
	}
	return resp.StatusCode, raw, nil
}

// classifyStatus maps an unexpected response: 408, 425, 429 and 5xx are retryable,
// every other status is a rejection.
func classifyStatus(status int, body []byte) error {
	err := fmt.Errorf("status %d: %s", status, truncateBody(body))
	switch {
	case status >= 500,
		status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests:
		return Transient(mintServiceName, err)
	case status >= 400:
		return Permanent(mintServiceName, err)
	}
	return Transient(mintServiceName, errors.New("unexpected "+err.Error()))
}

func truncateBody(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
