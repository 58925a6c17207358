package lending

import "time"

// Listing statuses.
const (
	StatusAvailable = "available"
	StatusLent      = "lent"
)

// User represents a registered ShareIt member.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"` // Don't serialize the credential
	Coins        int    `json:"coins"`
}

// Listing is an item a user offers to lend. Its external id is its
// position in the registry; Key stays fixed for the listing's lifetime so
// notifications can refer to it after earlier listings are removed.
type Listing struct {
	Key       int64  `json:"key"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Condition string `json:"condition"`
	Price     int    `json:"price"`
	Quantity  int    `json:"quantity"`
	FromDate  string `json:"from_date"`
	ToDate    string `json:"to_date"`
	Owner     string `json:"owner"`
	Status    string `json:"status"`
}

// Request is a want-ad for an item someone would like to borrow.
type Request struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
	FromDate string `json:"from_date"`
	ToDate   string `json:"to_date"`
	Owner    string `json:"owner"`
}

// NotificationState tracks a borrow request through its lifecycle.
type NotificationState string

const (
	NotificationPending  NotificationState = "pending"
	NotificationAccepted NotificationState = "accepted"
	NotificationDeclined NotificationState = "declined"
)

// Notification is a borrow request directed at a listing's owner.
// ListingName and Price are captured when the request is made.
type Notification struct {
	ID          int               `json:"id"`
	ListingKey  int64             `json:"listing_key"`
	ListingName string            `json:"listing_name"`
	Price       int               `json:"price"`
	Requester   string            `json:"requester"`
	Owner       string            `json:"owner"`
	State       NotificationState `json:"state"`
	CreatedAt   time.Time         `json:"created_at"`
}

// ListingInput holds the fields for a new listing.
type ListingInput struct {
	Name      string
	Category  string
	Condition string
	Price     int
	Quantity  int
	FromDate  string
	ToDate    string
}

// ListingEdit holds the fields to change on an existing listing. Nil
// fields are left untouched.
type ListingEdit struct {
	Name      *string
	Condition *string
	Price     *int
	Quantity  *int
	FromDate  *string
	ToDate    *string
	Status    *string
}

// RequestInput holds the fields for a new request.
type RequestInput struct {
	Name     string
	Category string
	Quantity int
	FromDate string
	ToDate   string
}

// RegistryData represents the complete registry state for persistence.
type RegistryData struct {
	Users          []*User         `json:"users"`
	Listings       []*Listing      `json:"listings"`
	Requests       []*Request      `json:"requests"`
	Notifications  []*Notification `json:"notifications"`
	NextListingKey int64           `json:"next_listing_key"`
}
