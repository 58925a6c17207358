package lending

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newTestBridge(t *testing.T, reg *Registry, user string) *Bridge {
	t.Helper()
	b := NewBridge(reg, nil)
	if !b.ValidateUser(user, user+"-pw") {
		t.Fatalf("ValidateUser(%s) failed", user)
	}
	return b
}

func TestAtoi(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"42", 42},
		{"0", 0},
		{"  -7x", -7},
		{"+3", 3},
		{"\t12", 12},
		{"1e3", 1},
		{"abc", 0},
		{"", 0},
		{"-", 0},
		{"--5", 0},
		{"99999999999", math.MaxInt32},
		{"-99999999999", math.MinInt32},
	}
	for _, tt := range tests {
		if got := Atoi(tt.in); got != tt.want {
			t.Errorf("Atoi(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBridgeAddAndDeleteListing(t *testing.T) {
	reg := newTestRegistry(t)
	b := newTestBridge(t, reg, "alice")

	if !b.SaveNewListing("Drill", "good", "50", "1", "alice", "2024-01-01", "2024-01-10") {
		t.Fatalf("SaveNewListing failed")
	}
	got := b.GetListings()
	if len(got) != 1 || RecordName(got[0]) != "Drill" {
		t.Fatalf("listings = %v", got)
	}
	if want := "Drill|good|50|1|alice|2024-01-01|2024-01-10"; got[0] != want {
		t.Fatalf("record = %q, want %q", got[0], want)
	}
	if !b.DeleteListing("0") {
		t.Fatalf("DeleteListing(0) failed")
	}
	if got := b.GetListings(); len(got) != 0 {
		t.Fatalf("listings after delete = %v", got)
	}
}

func TestBridgeUsesZeroBasedIDs(t *testing.T) {
	reg := newTestRegistry(t)
	b := newTestBridge(t, reg, "alice")
	for _, name := range []string{"Drill", "Tent", "Ladder"} {
		if !b.SaveNewListing(name, "good", "5", "1", "", "2024-01-01", "2024-01-02") {
			t.Fatalf("SaveNewListing(%s) failed", name)
		}
	}

	for i, want := range []string{"Drill", "Tent", "Ladder"} {
		if got := RecordName(b.GetItemDetails(true, i)); got != want {
			t.Fatalf("GetItemDetails(true, %d) = %q, want %q", i, got, want)
		}
	}
	if got := b.GetItemDetails(true, 3); got != "" {
		t.Fatalf("out of range index returned %q", got)
	}
	if got := b.GetItemDetails(true, -1); got != "" {
		t.Fatalf("negative index returned %q", got)
	}

	if !b.DeleteListing("1") {
		t.Fatalf("DeleteListing(1) failed")
	}
	if diff := cmp.Diff([]string{"Drill", "Ladder"}, b.GetListingNames()); diff != "" {
		t.Fatalf("names after delete (-want +got):\n%s", diff)
	}
	for _, id := range []string{"5", "-3"} {
		if b.DeleteListing(id) {
			t.Fatalf("DeleteListing(%q) reported success", id)
		}
	}
	if n := len(b.GetListings()); n != 2 {
		t.Fatalf("invalid deletes changed the listings: %d left", n)
	}
}

func TestBridgeEditKeepsUnsuppliedFields(t *testing.T) {
	reg := newTestRegistry(t)
	b := newTestBridge(t, reg, "alice")
	b.SaveNewListing("Drill", "good", "50", "2", "", "2024-01-01", "2024-01-10")

	if !b.SaveListingChanges("0", "", "worn", "", "", "", "", "2024-01-20") {
		t.Fatalf("SaveListingChanges failed")
	}
	want := "Drill|worn|50|2|alice|2024-01-01|2024-01-20"
	if got := b.GetItemDetails(true, 0); got != want {
		t.Fatalf("record = %q, want %q", got, want)
	}

	// Invalid edits are rejected as a whole.
	if b.SaveListingChanges("0", "Hammer", "", "", "0", "", "", "") {
		t.Fatalf("edit with zero quantity succeeded")
	}
	if got := b.GetItemDetails(true, 0); got != want {
		t.Fatalf("rejected edit changed the record to %q", got)
	}
}

func TestBridgeOwnerOnlyMutations(t *testing.T) {
	reg := newTestRegistry(t)
	alice := newTestBridge(t, reg, "alice")
	bob := newTestBridge(t, reg, "bob")
	alice.SaveNewListing("Drill", "good", "50", "1", "", "2024-01-01", "2024-01-10")

	if bob.SaveListingChanges("0", "Mine now", "", "", "", "", "", "") {
		t.Fatalf("bob edited alice's listing")
	}
	if bob.DeleteListing("0") {
		t.Fatalf("bob deleted alice's listing")
	}
	if len(bob.GetMyListings()) != 0 || len(alice.GetMyListings()) != 1 {
		t.Fatalf("ownership mixed up")
	}
}

func TestBridgeRequiresLogin(t *testing.T) {
	reg := newTestRegistry(t)
	b := NewBridge(reg, nil)

	if b.SaveNewListing("Drill", "good", "50", "1", "alice", "2024-01-01", "2024-01-10") {
		t.Fatalf("anonymous SaveNewListing succeeded")
	}
	if b.SaveNewRequest("Ladder", "", "", "1", "alice", "2024-01-01", "2024-01-10") {
		t.Fatalf("anonymous SaveNewRequest succeeded")
	}
	if b.GetCoins() != 0 || len(b.GetNotifications()) != 0 || len(b.GetMyListings()) != 0 {
		t.Fatalf("anonymous reads should be empty")
	}
	b.RequestListing(true, 0)

	if b.ValidateUser("", "pw") {
		t.Fatalf("empty username accepted")
	}
	if b.User() != "" {
		t.Fatalf("failed login bound user %q", b.User())
	}
	if err := b.BindUser("ghost"); err == nil {
		t.Fatalf("BindUser accepted an unknown user")
	}
}

func TestBridgeValidateUser(t *testing.T) {
	reg := newTestRegistry(t)
	b := NewBridge(reg, nil)

	if !b.ValidateUser("alice", "pw") {
		t.Fatalf("first login should register alice")
	}
	if b.User() != "alice" || b.GetCoins() != 100 {
		t.Fatalf("user=%q coins=%d", b.User(), b.GetCoins())
	}

	other := NewBridge(reg, nil)
	if other.ValidateUser("alice", "wrong") {
		t.Fatalf("wrong password accepted")
	}
	if !other.ValidateUser("alice", "pw") {
		t.Fatalf("correct password rejected")
	}
}

func TestBridgeRequests(t *testing.T) {
	reg := newTestRegistry(t)
	alice := newTestBridge(t, reg, "alice")
	bob := newTestBridge(t, reg, "bob")

	if !bob.SaveNewRequest("Ladder", "ignored", "99", "2", "alice", "2024-03-01", "2024-03-02") {
		t.Fatalf("SaveNewRequest failed")
	}
	if bob.SaveNewRequest("Ladder", "", "", "x", "", "2024-03-01", "2024-03-02") {
		t.Fatalf("request with unparseable quantity succeeded")
	}

	want := "Ladder|other|2|bob|2024-03-01|2024-03-02"
	if got := alice.GetRequests(); len(got) != 1 || got[0] != want {
		t.Fatalf("requests = %v", got)
	}
	if got := alice.GetItemDetails(false, 0); got != want {
		t.Fatalf("request details = %q", got)
	}
	if got := alice.GetItemDetails(false, 1); got != "" {
		t.Fatalf("missing request returned %q", got)
	}
	if len(alice.GetMyRequests()) != 0 || len(bob.GetMyRequests()) != 1 {
		t.Fatalf("my requests mixed up")
	}

	// Requests cannot be borrowed.
	alice.RequestListing(false, 0)
	if len(bob.GetNotifications()) != 0 {
		t.Fatalf("borrowing a request created a notification")
	}
}

func TestBridgeBorrowFlow(t *testing.T) {
	reg := newTestRegistry(t)
	alice := newTestBridge(t, reg, "alice")
	bob := newTestBridge(t, reg, "bob")
	alice.SaveNewListing("Drill", "good", "30", "1", "", "2024-01-01", "2024-01-10")

	bob.RequestListing(true, 0)
	bob.RequestListing(true, 0)   // duplicate, ignored
	bob.RequestListing(true, 7)   // no such listing, ignored
	alice.RequestListing(true, 0) // own listing, ignored

	want := []string{"#0: bob wants to borrow Drill for 30 coins"}
	if diff := cmp.Diff(want, alice.GetNotifications()); diff != "" {
		t.Fatalf("notifications (-want +got):\n%s", diff)
	}
	if len(bob.GetNotifications()) != 0 {
		t.Fatalf("bob should have no notifications")
	}

	if bob.SendNotificationResponse("0", true) {
		t.Fatalf("requester answered the owner's notification")
	}
	if !alice.SendNotificationResponse("0", true) {
		t.Fatalf("accept failed")
	}
	if alice.SendNotificationResponse("0", false) {
		t.Fatalf("resolved notification answered twice")
	}
	if len(alice.GetNotifications()) != 0 {
		t.Fatalf("accepted notification still listed")
	}
	if alice.GetCoins() != 130 || bob.GetCoins() != 70 {
		t.Fatalf("coins alice=%d bob=%d, want 130 and 70", alice.GetCoins(), bob.GetCoins())
	}
	if got := alice.GetItemDetails(true, 0); got != "Drill|good|30|0|alice|2024-01-01|2024-01-10" {
		t.Fatalf("listing after accept = %q", got)
	}
}

func TestBridgeNotificationIDsAreStable(t *testing.T) {
	reg := newTestRegistry(t)
	alice := newTestBridge(t, reg, "alice")
	bob := newTestBridge(t, reg, "bob")
	carol := newTestBridge(t, reg, "carol")
	alice.SaveNewListing("Drill", "good", "10", "1", "", "2024-01-01", "2024-01-10")
	alice.SaveNewListing("Tent", "good", "10", "1", "", "2024-01-01", "2024-01-10")

	bob.RequestListing(true, 0)
	carol.RequestListing(true, 1)

	if !alice.SendNotificationResponse("0", false) {
		t.Fatalf("decline failed")
	}
	want := []string{"#1: carol wants to borrow Tent for 10 coins"}
	if diff := cmp.Diff(want, alice.GetNotifications()); diff != "" {
		t.Fatalf("remaining notifications (-want +got):\n%s", diff)
	}
	// Carol's line is first in the list, but its id is still 1.
	if alice.SendNotificationResponse("0", true) {
		t.Fatalf("list position 0 answered carol's notification")
	}
	if !alice.SendNotificationResponse("1", true) {
		t.Fatalf("accept by stable id failed")
	}
}

func TestBridgeSaveListingEditSetsStatus(t *testing.T) {
	reg := newTestRegistry(t)
	b := newTestBridge(t, reg, "alice")
	b.SaveNewListing("Drill", "good", "50", "2", "", "2024-01-01", "2024-01-10")

	if !b.SaveListingEdit("0", "", "", "60", "", "", "", "lent") {
		t.Fatalf("SaveListingEdit failed")
	}
	l, _ := reg.ListingDetails(1)
	if l.Status != StatusLent || l.Price != 60 || l.Quantity != 2 {
		t.Fatalf("listing after edit = %+v", l)
	}

	// A bad status rejects the whole edit.
	if b.SaveListingEdit("0", "", "", "70", "", "", "", "broken") {
		t.Fatalf("unknown status accepted")
	}
	if l, _ := reg.ListingDetails(1); l.Price != 60 {
		t.Fatalf("rejected edit changed price to %d", l.Price)
	}

	// SaveListingChanges never touches the status.
	if !b.SaveListingChanges("0", "Hammer drill", "", "", "", "", "", "") {
		t.Fatalf("SaveListingChanges failed")
	}
	if l, _ := reg.ListingDetails(1); l.Status != StatusLent {
		t.Fatalf("status changed to %s", l.Status)
	}
}

func TestBridgeCheckRequestListing(t *testing.T) {
	reg := newTestRegistry(t)
	alice := newTestBridge(t, reg, "alice")
	bob := newTestBridge(t, reg, "bob")
	alice.SaveNewListing("Drill", "good", "30", "1", "", "2024-01-01", "2024-01-10")

	if err := bob.CheckRequestListing(0); err != nil {
		t.Fatalf("check before borrowing: %v", err)
	}
	if err := alice.CheckRequestListing(0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("own listing: got %v", err)
	}
	if err := bob.CheckRequestListing(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing listing: got %v", err)
	}
	bob.RequestListing(true, 0)
	if err := bob.CheckRequestListing(0); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("duplicate: got %v", err)
	}
	if err := NewBridge(reg, nil).CheckRequestListing(0); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("anonymous: got %v", err)
	}
}
