package lending

import (
	"strconv"
	"strings"
)

// fieldSeparator delimits fields in listing and request records.
const fieldSeparator = "|"

// FormatListing renders a listing as
// name|condition|price|quantity|owner|fromDate|toDate.
func FormatListing(l Listing) string {
	return strings.Join([]string{
		l.Name,
		l.Condition,
		strconv.Itoa(l.Price),
		strconv.Itoa(l.Quantity),
		l.Owner,
		l.FromDate,
		l.ToDate,
	}, fieldSeparator)
}

// FormatRequest renders a request as
// name|category|quantity|owner|fromDate|toDate.
func FormatRequest(q Request) string {
	return strings.Join([]string{
		q.Name,
		q.Category,
		strconv.Itoa(q.Quantity),
		q.Owner,
		q.FromDate,
		q.ToDate,
	}, fieldSeparator)
}

// RecordName returns the display name of a record: everything before the
// first separator.
func RecordName(record string) string {
	name, _, _ := strings.Cut(record, fieldSeparator)
	return strings.TrimSpace(name)
}

// FormatNotification renders a pending notification with its external id.
func FormatNotification(n Notification) string {
	return "#" + strconv.Itoa(externalID(n.ID)) + ": " + n.Requester +
		" wants to borrow " + n.ListingName + " for " + strconv.Itoa(n.Price) + " coins"
}
