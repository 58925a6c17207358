package lending

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Bridge exposes the registry through primitive parameters for UI
// callers: records are pipe-delimited strings, numbers arrive as strings,
// ids are 0-based and every failure collapses to false (or an empty
// value). A Bridge is bound to at most one logged-in user.
type Bridge struct {
	reg *Registry
	log *logrus.Logger

	mu   sync.Mutex
	user string
}

// NewBridge wraps reg. A nil logger falls back to the registry's.
func NewBridge(reg *Registry, log *logrus.Logger) *Bridge {
	if log == nil {
		log = reg.log
	}
	return &Bridge{reg: reg, log: log}
}

// BindUser attaches an already authenticated user to the bridge.
func (b *Bridge) BindUser(username string) error {
	if !b.reg.UserExists(username) {
		return fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	b.mu.Lock()
	b.user = strings.TrimSpace(username)
	b.mu.Unlock()
	return nil
}

// User returns the bound username, or "" when nobody is logged in.
func (b *Bridge) User() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.user
}

func (b *Bridge) currentUser() (string, error) {
	if u := b.User(); u != "" {
		return u, nil
	}
	return "", ErrNotLoggedIn
}

// ValidateUser logs in, registering unknown usernames on the fly, and
// binds the bridge to the user on success.
func (b *Bridge) ValidateUser(username, password string) bool {
	created, err := b.reg.AuthenticateOrRegister(username, password)
	if err != nil {
		b.log.WithError(err).WithField("username", username).Warn("login rejected")
		return false
	}
	if created {
		b.log.WithField("username", username).Info("registered on first login")
	}
	b.mu.Lock()
	b.user = strings.TrimSpace(username)
	b.mu.Unlock()
	return true
}

// GetCoins returns the bound user's balance, or 0.
func (b *Bridge) GetCoins() int {
	user, err := b.currentUser()
	if err != nil {
		return 0
	}
	coins, err := b.reg.Balance(user)
	if err != nil {
		b.log.WithError(err).Warn("balance lookup failed")
		return 0
	}
	return coins
}

// GetListings returns every listing as a record string.
func (b *Bridge) GetListings() []string {
	return formatListings(b.reg.Listings())
}

// GetListingNames returns the display name of every listing.
func (b *Bridge) GetListingNames() []string {
	records := b.GetListings()
	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = RecordName(rec)
	}
	return names
}

func (b *Bridge) GetMyListings() []string {
	user, err := b.currentUser()
	if err != nil {
		return []string{}
	}
	return formatListings(b.reg.MyListings(user))
}

func (b *Bridge) GetRequests() []string {
	return formatRequests(b.reg.Requests())
}

func (b *Bridge) GetMyRequests() []string {
	user, err := b.currentUser()
	if err != nil {
		return []string{}
	}
	return formatRequests(b.reg.MyRequests(user))
}

// GetItemDetails returns the record for the listing or request at the
// 0-based index, or "" when there is none.
func (b *Bridge) GetItemDetails(isListing bool, index int) string {
	id := internalID(index)
	if isListing {
		l, err := b.reg.ListingDetails(id)
		if err != nil {
			b.log.WithError(err).Debug("listing details")
			return ""
		}
		return FormatListing(l)
	}
	q, err := b.reg.RequestDetails(id)
	if err != nil {
		b.log.WithError(err).Debug("request details")
		return ""
	}
	return FormatRequest(q)
}

// SaveNewListing adds a listing for the bound user. The owner argument is
// ignored; listings always belong to whoever is logged in.
func (b *Bridge) SaveNewListing(name, condition, price, quantity, owner, fromDate, toDate string) bool {
	user, err := b.currentUser()
	if err != nil {
		return b.fail("save listing", err)
	}
	_, err = b.reg.AddListing(user, ListingInput{
		Name:      name,
		Category:  defaultListingCategory,
		Condition: condition,
		Price:     Atoi(price),
		Quantity:  Atoi(quantity),
		FromDate:  fromDate,
		ToDate:    toDate,
	})
	if err != nil {
		return b.fail("save listing", err)
	}
	return true
}

// SaveNewRequest adds a request for the bound user. Condition, price and
// owner are accepted for form compatibility and ignored.
func (b *Bridge) SaveNewRequest(name, condition, price, quantity, owner, fromDate, toDate string) bool {
	user, err := b.currentUser()
	if err != nil {
		return b.fail("save request", err)
	}
	_, err = b.reg.AddRequest(user, RequestInput{
		Name:     name,
		Category: defaultRequestCategory,
		Quantity: Atoi(quantity),
		FromDate: fromDate,
		ToDate:   toDate,
	})
	if err != nil {
		return b.fail("save request", err)
	}
	return true
}

// SaveListingChanges edits the listing at the 0-based listingID. Empty
// strings leave the corresponding field unchanged. The owner argument is
// ignored and the status is left alone; see SaveListingEdit.
func (b *Bridge) SaveListingChanges(listingID, name, condition, price, quantity, owner, fromDate, toDate string) bool {
	return b.SaveListingEdit(listingID, name, condition, price, quantity, fromDate, toDate, "")
}

// SaveListingEdit is SaveListingChanges with a status ("available" or
// "lent"). All supplied fields are applied together or not at all.
func (b *Bridge) SaveListingEdit(listingID, name, condition, price, quantity, fromDate, toDate, status string) bool {
	user, err := b.currentUser()
	if err != nil {
		return b.fail("edit listing", err)
	}
	edit := ListingEdit{
		Name:      optionalString(name),
		Condition: optionalString(condition),
		Price:     optionalInt(price),
		Quantity:  optionalInt(quantity),
		FromDate:  optionalString(fromDate),
		ToDate:    optionalString(toDate),
		Status:    optionalString(status),
	}
	if err := b.reg.EditListing(user, internalID(Atoi(listingID)), edit); err != nil {
		return b.fail("edit listing", err)
	}
	return true
}

// DeleteListing removes the listing at the 0-based listingID.
func (b *Bridge) DeleteListing(listingID string) bool {
	user, err := b.currentUser()
	if err != nil {
		return b.fail("delete listing", err)
	}
	if err := b.reg.RemoveListing(user, internalID(Atoi(listingID))); err != nil {
		return b.fail("delete listing", err)
	}
	return true
}

// RequestListing asks the owner of the listing at the 0-based index to
// lend it to the bound user. There is no result: rejected requests are
// logged and leave the registry unchanged. Requests (isListing false)
// cannot be fulfilled this way and are ignored.
func (b *Bridge) RequestListing(isListing bool, index int) {
	if !isListing {
		return
	}
	user, err := b.currentUser()
	if err != nil {
		b.fail("borrow request", err)
		return
	}
	if _, err := b.reg.RequestOwnerToBorrow(user, internalID(index)); err != nil {
		b.fail("borrow request", err)
	}
}

// CheckRequestListing reports why RequestListing(true, index) would be
// rejected, or nil when it would be recorded.
func (b *Bridge) CheckRequestListing(index int) error {
	user, err := b.currentUser()
	if err != nil {
		return err
	}
	return b.reg.CheckBorrow(user, internalID(index))
}

// GetNotifications returns the bound user's pending notifications.
func (b *Bridge) GetNotifications() []string {
	user, err := b.currentUser()
	if err != nil {
		return []string{}
	}
	pending := b.reg.Notifications(user)
	out := make([]string, len(pending))
	for i, n := range pending {
		out[i] = FormatNotification(n)
	}
	return out
}

// SendNotificationResponse accepts or declines a notification.
// notificationID is the N shown as "#N" in a GetNotifications line, not
// the line's position in that list: ids stay fixed as others resolve.
func (b *Bridge) SendNotificationResponse(notificationID string, accepted bool) bool {
	user, err := b.currentUser()
	if err != nil {
		return b.fail("notification reply", err)
	}
	action := "no"
	if accepted {
		action = "yes"
	}
	if err := b.reg.ReplyToNotification(user, internalID(Atoi(notificationID)), action); err != nil {
		return b.fail("notification reply", err)
	}
	return true
}

// fail logs err and returns false. Caller mistakes are warnings; anything
// outside the registry's error set is an error.
func (b *Bridge) fail(op string, err error) bool {
	entry := b.log.WithError(err).WithField("op", op)
	if isCallerError(err) {
		entry.Warn("operation rejected")
	} else {
		entry.Error("operation failed")
	}
	return false
}

func isCallerError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidInput, ErrDuplicateUser, ErrInvalidCredentials,
		ErrForbidden, ErrUnavailable, ErrDuplicateRequest, ErrAlreadyResolved,
		ErrInsufficientFunds, ErrNotLoggedIn,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// internalID converts a 0-based external id to the registry's 1-based id.
func internalID(external int) int { return external + 1 }

// externalID converts a registry id to its 0-based external form.
func externalID(internal int) int { return internal - 1 }

// Atoi parses the leading integer of s the way C's atoi does: leading
// whitespace and one sign are skipped, digits are read until the first
// non-digit, and input without digits yields 0. Results are clamped to
// the 32-bit range.
func Atoi(s string) int {
	i := 0
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	var n int64
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int64(s[i]-'0')
		if n > math.MaxInt32+1 {
			n = math.MaxInt32 + 1
		}
	}
	if neg {
		n = -n
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int(n)
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func optionalInt(s string) *int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	n := Atoi(s)
	return &n
}

func formatListings(ls []Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = FormatListing(l)
	}
	return out
}

func formatRequests(qs []Request) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = FormatRequest(q)
	}
	return out
}
