package activitypub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/util"
)

// deliveryBackoff is the retry schedule in minutes, indexed by attempt.
var deliveryBackoff = []int{1, 5, 15, 60, 240, 1440}

const maxDeliveryAttempts = 10

// DeliveryWorker drains the outbound delivery queue.
type DeliveryWorker struct {
	store       Store
	client      HTTPClient
	localDomain string
	interval    time.Duration
	batchSize   int
	now         Clock
}

// DeliveryConfig configures a DeliveryWorker.
type DeliveryConfig struct {
	Client      HTTPClient
	LocalDomain string
	Interval    time.Duration
	BatchSize   int
	Now         Clock
}

func NewDeliveryWorker(store Store, cfg DeliveryConfig) *DeliveryWorker {
	if cfg.Client == nil {
		cfg.Client = NewSafeHTTPClient(30 * time.Second)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DeliveryWorker{
		store:       store,
		client:      cfg.Client,
		localDomain: cfg.LocalDomain,
		interval:    cfg.Interval,
		batchSize:   cfg.BatchSize,
		now:         cfg.Now,
	}
}

// Run processes the queue on every tick until ctx is cancelled.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	log.Println("Starting ActivityPub delivery worker...")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.processQueue(ctx); err != nil {
				log.Printf("DeliveryWorker: %v", err)
			}
		}
	}
}

// processQueue delivers the due items of the queue once.
func (w *DeliveryWorker) processQueue(ctx context.Context) error {
	var items []domain.DeliveryQueueItem
	err := w.store.InTx(ctx, func(tx Tx) error {
		var err error
		items, err = tx.ReadPendingDeliveries(w.now(), w.batchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.processItem(ctx, item)
	}
	return nil
}

func (w *DeliveryWorker) processItem(ctx context.Context, item domain.DeliveryQueueItem) {
	host := domain.DomainOf(item.InboxURI)
	deliverErr := w.deliver(ctx, &item)

	err := w.store.InTx(ctx, func(tx Tx) error {
		inst, err := tx.ReadInstance(host)
		if errors.Is(err, domain.ErrNotFound) {
			inst = &domain.Instance{Domain: host}
		} else if err != nil {
			return err
		}

		now := w.now()
		if deliverErr == nil {
			log.Printf("DeliveryWorker: Successfully delivered to %s", item.InboxURI)
			recordDelivery("success")
			inst.RecordSuccess(now)
			if err := tx.SaveInstance(inst); err != nil {
				return err
			}
			return tx.DeleteDelivery(item.Id)
		}

		inst.RecordFailure(now)
		if err := tx.SaveInstance(inst); err != nil {
			return err
		}

		item.Attempts++
		if item.Attempts >= maxDeliveryAttempts || !inst.MayDeliver() {
			log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts: %v", item.InboxURI, item.Attempts, deliverErr)
			recordDelivery("dropped")
			return tx.DeleteDelivery(item.Id)
		}

		backoffMinutes := deliveryBackoff[min(item.Attempts-1, len(deliveryBackoff)-1)]
		item.NextRetryAt = now.Add(time.Duration(backoffMinutes) * time.Minute)
		log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
			item.InboxURI, item.Attempts, backoffMinutes, deliverErr)
		recordDelivery("retry")
		return tx.UpdateDeliveryAttempt(&item)
	})
	if err != nil {
		log.Printf("DeliveryWorker: Failed to update queue item %s: %v", item.Id, err)
	}
}

// deliver posts one signed activity.
func (w *DeliveryWorker) deliver(ctx context.Context, item *domain.DeliveryQueueItem) error {
	var signer *domain.Actor
	err := w.store.InTx(ctx, func(tx Tx) error {
		var err error
		signer, err = tx.ReadActorById(item.ActorId)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to get signing actor: %w", err)
	}

	privateKey, err := ParsePrivateKey(signer.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeActivityJSON)
	req.Header.Set("Accept", contentTypeActivityJSON)
	req.Header.Set("User-Agent", util.UserAgent(w.localDomain))
	req.Header.Set("Date", w.now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", Digest(body))

	keyID := LocalActorURL(w.localDomain, signer) + "#main-key"
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}
	return nil
}
