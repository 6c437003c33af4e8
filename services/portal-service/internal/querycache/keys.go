package querycache

import (
	"net/url"
	"slices"
	"strings"
)

// Provider-scoped keys end the provider id with ':' so the prefix of one
// provider never matches another whose id extends it.
const (
	listPrefix     = "appointments:list:"
	countsPrefix   = "appointments:counts:"
	calendarPrefix = "appointments:calendar:"
	slotsPrefix    = "slots:"
	schedulePrefix = "schedule:"
)

func ListKey(providerID string, query url.Values) string {
	return Key(listPrefix+providerID+":", query)
}

func CountsKey(providerID string) string {
	return countsPrefix + providerID + ":"
}

func CalendarKey(providerID, startDate, endDate string) string {
	return Key(calendarPrefix+providerID+":", url.Values{"start_date": {startDate}, "end_date": {endDate}})
}

func ScheduleKey(providerID string) string {
	return schedulePrefix + providerID + ":"
}

// SlotsKey is order-insensitive in the service set.
func SlotsKey(providerID, date string, serviceIDs []string) string {
	ids := slices.Clone(serviceIDs)
	slices.Sort(ids)
	return Key(SlotPrefix(providerID, date), url.Values{"service_ids": {strings.Join(ids, ",")}})
}

// SlotPrefix covers every service combination of one provider day, or every
// day when date is empty.
func SlotPrefix(providerID, date string) string {
	return slotsPrefix + providerID + ":" + date
}

// AppointmentPrefixes covers every appointment view of a provider: the list,
// the status counts and the calendar.
func AppointmentPrefixes(providerID string) []string {
	return []string{
		listPrefix + providerID + ":",
		countsPrefix + providerID + ":",
		calendarPrefix + providerID + ":",
	}
}
