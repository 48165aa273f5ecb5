package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/kafka-go"
)

// oldKeyGrace is how long a rotated-out key still verifies signatures.
const oldKeyGrace = 24 * time.Hour

// Headers the ingress adds to published activities.
const (
	HeaderSignedBy   = "signed_by"
	HeaderReceivedAt = "received_at"
)

// Publisher hands verified activities to the inbound topic. *queue.Publisher
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, body []byte, headers ...kafka.Header) error
}

// handleInbox returns the handler for the shared inbox (kind "") or for the
// inbox of a local actor of the given kind.
func (s *Server) handleInbox(kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if kind != "" {
			name := c.Param("name")
			err := s.db.InTx(ctx, func(tx *db.Tx) error {
				_, err := tx.ReadLocalActor(kind, name)
				return err
			})
			if errors.Is(err, domain.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Unknown inbox"})
				return
			}
			if err != nil {
				log.Printf("Ingress: Failed to read %s %s: %v", kind, name, err)
				c.Status(http.StatusInternalServerError)
				return
			}
		}

		if c.GetHeader("Signature") == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
			return
		}

		body, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		if c.GetHeader("Digest") != activitypub.Digest(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Digest mismatch"})
			return
		}

		env, err := activitypub.DecodeEnvelope(body)
		if err != nil {
			log.Printf("Ingress: Invalid activity: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity"})
			return
		}

		status, signer := s.verify(ctx, c.Request, env)
		if status != http.StatusOK {
			c.Status(status)
			return
		}
		if signer == nil {
			// Nothing left to act on, such as the Delete of an actor we never saw.
			c.Status(http.StatusAccepted)
			return
		}

		headers := []kafka.Header{
			{Key: HeaderSignedBy, Value: []byte(signer.ApId)},
			{Key: HeaderReceivedAt, Value: []byte(s.now().UTC().Format(time.RFC3339))},
		}
		if err := s.publisher.Publish(ctx, s.topic, env.Actor, body, headers...); err != nil {
			log.Printf("Ingress: Failed to queue %s %s: %v", env.Type, env.ID, err)
			c.Status(http.StatusServiceUnavailable)
			return
		}

		log.Printf("Ingress: Queued %s %s from %s", env.Type, env.ID, signer.ApId)
		recordIngress("queued")
		c.Status(http.StatusAccepted)
	}
}

// verify checks the HTTP signature of an inbound activity. It returns the
// HTTP status to answer with and the signing actor on success. A nil actor
// with StatusOK means the activity can be acknowledged and dropped.
func (s *Server) verify(ctx context.Context, req *http.Request, env *activitypub.Envelope) (int, *domain.Actor) {
	keyId, err := activitypub.SignatureKeyId(req)
	if err != nil {
		log.Printf("Ingress: Unreadable signature: %v", err)
		recordIngress("bad_signature")
		return http.StatusUnauthorized, nil
	}
	signerURI := strings.SplitN(keyId, "#", 2)[0]
	host := domain.DomainOf(signerURI)

	if host == "" || host != domain.DomainOf(env.Actor) {
		log.Printf("Ingress: Key %s cannot sign for %s", keyId, env.Actor)
		recordIngress("forbidden")
		return http.StatusForbidden, nil
	}
	if strings.EqualFold(host, s.localDomain) {
		recordIngress("forbidden")
		return http.StatusForbidden, nil
	}

	var banned bool
	err = s.db.InTx(ctx, func(tx *db.Tx) error {
		inst, err := tx.ReadInstance(host)
		if err != nil {
			return err
		}
		banned = inst.IsBanned
		return nil
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		log.Printf("Ingress: Failed to read instance %s: %v", host, err)
		return http.StatusInternalServerError, nil
	}
	if banned {
		recordIngress("banned")
		return http.StatusForbidden, nil
	}

	signer, err := s.resolver.Resolve(ctx, signerURI)
	if err != nil {
		if env.Type == activitypub.TypeDelete && env.Object.ID == env.Actor {
			recordIngress("dropped")
			return http.StatusOK, nil
		}
		log.Printf("Ingress: Failed to resolve signer %s: %v", signerURI, err)
		var rejected *activitypub.RejectedError
		if errors.As(err, &rejected) {
			recordIngress("forbidden")
			return http.StatusForbidden, nil
		}
		recordIngress("unresolved")
		return http.StatusServiceUnavailable, nil
	}

	if _, err := activitypub.VerifyRequest(req, s.candidateKeys(signer)...); err == nil {
		return http.StatusOK, signer
	}

	// The remote may have rotated its key since we cached it.
	refreshed, err := s.resolver.Refresh(ctx, signerURI)
	if err == nil && refreshed.PublicKeyPem != signer.PublicKeyPem {
		if _, err := activitypub.VerifyRequest(req, s.candidateKeys(refreshed)...); err == nil {
			return http.StatusOK, refreshed
		}
	}

	log.Printf("Ingress: Signature verification failed for %s", keyId)
	recordIngress("bad_signature")
	return http.StatusUnauthorized, nil
}

// candidateKeys returns the current key and, within the grace period after a
// rotation, the previous one.
func (s *Server) candidateKeys(a *domain.Actor) []string {
	keys := []string{a.PublicKeyPem}
	if a.OldPublicKeyPem != "" && s.now().Sub(a.LastKeyRotationAt) < oldKeyGrace {
		keys = append(keys, a.OldPublicKeyPem)
	}
	return keys
}
