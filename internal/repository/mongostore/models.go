package mongostore

import (
	"time"

	"github.com/seoforge/backend/internal/domain"
)

type subscriptionDoc struct {
	Status    string     `bson:"status"`
	PlanID    string     `bson:"planId,omitempty"`
	PeriodEnd *time.Time `bson:"periodEnd,omitempty"`
	Ref       string     `bson:"ref,omitempty"`
}

type accountDoc struct {
	ID                 string          `bson:"_id"`
	Email              string          `bson:"email"`
	CredentialHash     string          `bson:"credentialHash"`
	Role               string          `bson:"role"`
	Balance            int64           `bson:"balance"`
	PaymentCustomerRef string          `bson:"paymentCustomerRef,omitempty"`
	Subscription       subscriptionDoc `bson:"subscription"`
	AppliedEvents      []string        `bson:"appliedEvents,omitempty"`
	Version            int64           `bson:"version"`
	CreatedAt          time.Time       `bson:"createdAt"`
	UpdatedAt          time.Time       `bson:"updatedAt"`
}

func toSubscriptionDoc(s domain.Subscription) subscriptionDoc {
	return subscriptionDoc{
		Status:    string(s.Status),
		PlanID:    s.PlanID,
		PeriodEnd: s.PeriodEnd,
		Ref:       s.ExternalSubscriptionRef,
	}
}

func toAccountDoc(a *domain.Account) *accountDoc {
	return &accountDoc{
		ID:                 a.ID,
		Email:              a.Email,
		CredentialHash:     a.CredentialHash,
		Role:               a.Role,
		Balance:            a.Balance,
		PaymentCustomerRef: a.PaymentCustomerRef,
		Subscription:       toSubscriptionDoc(a.Subscription),
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (d *accountDoc) toDomain() *domain.Account {
	return &domain.Account{
		ID:                 d.ID,
		Email:              d.Email,
		CredentialHash:     d.CredentialHash,
		Role:               d.Role,
		Balance:            d.Balance,
		PaymentCustomerRef: d.PaymentCustomerRef,
		Subscription: domain.Subscription{
			Status:                  domain.SubscriptionStatus(d.Subscription.Status),
			PlanID:                  d.Subscription.PlanID,
			PeriodEnd:               d.Subscription.PeriodEnd,
			ExternalSubscriptionRef: d.Subscription.Ref,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type articleDoc struct {
	ID             string    `bson:"_id"`
	OwnerID        string    `bson:"ownerId"`
	Title          string    `bson:"title"`
	Content        string    `bson:"content,omitempty"`
	SourceURL      string    `bson:"sourceUrl"`
	IdempotencyKey string    `bson:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `bson:"createdAt"`
}

func toArticleDoc(a *domain.Article) *articleDoc {
	return &articleDoc{
		ID:             a.ID,
		OwnerID:        a.OwnerID,
		Title:          a.Title,
		Content:        a.Content,
		SourceURL:      a.SourceURL,
		IdempotencyKey: a.IdempotencyKey,
		CreatedAt:      a.CreatedAt,
	}
}

func (d *articleDoc) toDomain() *domain.Article {
	return &domain.Article{
		ID:             d.ID,
		OwnerID:        d.OwnerID,
		Title:          d.Title,
		Content:        d.Content,
		SourceURL:      d.SourceURL,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt,
	}
}
