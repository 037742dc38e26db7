package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"activity-rewards-system/models"
	"activity-rewards-system/testutil"

	"gorm.io/gorm"
)

// fakeChain is an in-memory minting service. Tokens materialize on Mint unless
// dropMints is set; queued errors are returned by the next calls in order.
type fakeChain struct {
	mu sync.Mutex

	tokens    map[string]*ExternalToken // owner|achievement
	txs       map[string]string         // tx -> owner|achievement
	seq       int
	mintCalls int
	findCalls int

	mintErrs  []error
	findErrs  []error
	awaitErr  error
	awaitHang bool // AwaitConfirmation waits for ctx to expire
	dropMints bool // Mint returns a tx but nothing lands on chain
	onAwait   func()

	inFlight map[string]bool // broadcast txs that have not resolved yet
}

func newFakeChain() *fakeChain {
	return &fakeChain{tokens: map[string]*ExternalToken{}, txs: map[string]string{}, inFlight: map[string]bool{}}
}

// pending registers a broadcast tx for (owner, achievement) that has not resolved.
func (f *fakeChain) pending(tx, owner, achievementID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[tx] = chainKey(owner, achievementID)
	f.inFlight[tx] = true
}

// resolve settles an in-flight tx; landed txs put their token on chain.
func (f *fakeChain) resolve(tx string, landed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inFlight, tx)
	if landed {
		f.tokens[f.txs[tx]] = &ExternalToken{TokenID: "token-" + tx, TxReference: tx}
	}
}

func chainKey(owner, achievementID string) string { return owner + "|" + achievementID }

func (f *fakeChain) put(owner, achievementID, tokenID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[chainKey(owner, achievementID)] = &ExternalToken{
		TokenID:     tokenID,
		Owner:       owner,
		MetadataURI: "https://cdn.test/chain/" + tokenID + ".json",
		TxReference: "tx-" + tokenID,
	}
}

func (f *fakeChain) Mint(ctx context.Context, owner, metadataURI, achievementID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mintCalls++
	if len(f.mintErrs) > 0 {
		err := f.mintErrs[0]
		f.mintErrs = f.mintErrs[1:]
		return "", err
	}
	key := chainKey(owner, achievementID)
	if _, ok := f.tokens[key]; ok {
		return "", ErrAlreadyMinted
	}
	f.seq++
	tx := fmt.Sprintf("tx-%d", f.seq)
	f.txs[tx] = key
	if !f.dropMints {
		f.tokens[key] = &ExternalToken{
			TokenID:     fmt.Sprintf("token-%d", f.seq),
			Owner:       owner,
			MetadataURI: metadataURI,
			TxReference: tx,
		}
	}
	return tx, nil
}

func (f *fakeChain) AwaitConfirmation(ctx context.Context, txReference string) (*MintConfirmation, error) {
	f.mu.Lock()
	hang, awaitErr, hook := f.awaitHang, f.awaitErr, f.onAwait
	inFlight := f.inFlight[txReference]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	if hang || inFlight {
		<-ctx.Done()
		return nil, Transient("minting", ctx.Err())
	}
	if awaitErr != nil {
		return nil, awaitErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[f.txs[txReference]]
	if !ok {
		return &MintConfirmation{Confirmed: false}, nil
	}
	return &MintConfirmation{TokenID: tok.TokenID, Confirmed: true}, nil
}

func (f *fakeChain) FindToken(ctx context.Context, owner, achievementID string) (*ExternalToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if len(f.findErrs) > 0 {
		err := f.findErrs[0]
		f.findErrs = f.findErrs[1:]
		return nil, err
	}
	tok, ok := f.tokens[chainKey(owner, achievementID)]
	if !ok {
		return nil, nil
	}
	cp := *tok
	return &cp, nil
}

func (f *fakeChain) calls() (mints, finds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mintCalls, f.findCalls
}

func (f *fakeChain) tokenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tokens)
}

type fakeMetadata struct {
	mu      sync.Mutex
	uploads []*models.AchievementMetadata
	errs    []error
}

func (f *fakeMetadata) UploadMetadata(ctx context.Context, meta *models.AchievementMetadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	f.uploads = append(f.uploads, meta)
	return fmt.Sprintf("https://cdn.test/%s/%d.json", meta.AchievementID, len(f.uploads)), nil
}

// clock is a settable time source for services under test.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t.UTC()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type pipeline struct {
	db          *gorm.DB
	clock       *clock
	chain       *fakeChain
	metadata    *fakeMetadata
	catalog     *Catalog
	ledger      *ActivityLedger
	progress    *ProgressionService
	evaluator   *AchievementEvaluator
	activity    *ActivityService
	alerts      *AlertService
	coordinator *MintCoordinator
}

func testCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAttempts:    3,
		BackoffBase:    10 * time.Second,
		BackoffMax:     10 * time.Minute,
		ConfirmTimeout: 50 * time.Millisecond,
		ReconcileGrace: 3 * time.Minute,
	}
}

// newPipeline wires every service against a fresh database and fake externals.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	catalog, err := NewCatalog(models.DefaultCatalog)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}

	p := &pipeline{
		db:       db,
		clock:    newClock(time.Now()),
		chain:    newFakeChain(),
		metadata: &fakeMetadata{},
		catalog:  catalog,
	}
	p.ledger = NewActivityLedger(db, log, time.UTC, 5*time.Minute)
	p.ledger.now = p.clock.Now
	p.progress = NewProgressionService(db, p.ledger, log)
	p.evaluator = NewAchievementEvaluator(db, catalog, log)
	p.evaluator.now = p.clock.Now
	p.activity = NewActivityService(p.ledger, p.progress, p.evaluator, log)
	p.alerts = NewAlertService(db, log)
	p.coordinator = NewMintCoordinator(db, catalog, p.metadata, p.chain, p.alerts, testCoordinatorConfig(), log)
	p.coordinator.now = p.clock.Now
	return p
}

func (p *pipeline) record(t *testing.T, id string) models.MintRecord {
	t.Helper()
	var rec models.MintRecord
	if err := p.db.Where("id = ?", id).First(&rec).Error; err != nil {
		t.Fatalf("load mint record %s: %v", id, err)
	}
	return rec
}

func (p *pipeline) recordFor(t *testing.T, userID, achievementID string) models.MintRecord {
	t.Helper()
	var rec models.MintRecord
	if err := p.db.Where("user_id = ? AND achievement_id = ?", userID, achievementID).First(&rec).Error; err != nil {
		t.Fatalf("load mint record %s/%s: %v", userID, achievementID, err)
	}
	return rec
}

func (p *pipeline) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := p.db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
