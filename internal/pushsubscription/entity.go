package pushsubscription

import "time"

// Subscription is a browser web-push endpoint registered by one owner.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	OwnerID   string    `yaml:"owner_id" json:"owner_id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"-"`
	AuthKey   string    `yaml:"auth_key" json:"-"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}
