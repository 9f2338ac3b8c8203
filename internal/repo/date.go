package repo

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Date is stored as an RFC3339 UTC string, so lexical order in SQL matches
// chronological order.
type Date time.Time

const dateLayout = time.RFC3339

func NewDate(t time.Time) Date {
	return Date(t.UTC().Truncate(time.Second))
}

func (d Date) Value() (driver.Value, error) {
	return time.Time(d).UTC().Format(dateLayout), nil
}

func (d *Date) Scan(value any) error {
	if value == nil {
		*d = Date(time.Time{})
		return nil
	}

	switch v := value.(type) {
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case time.Time:
		*d = Date(v.UTC())
		return nil
	}

	return fmt.Errorf("cannot scan type %T into Date", value)
}

func (d *Date) parse(s string) error {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			return err
		}
	}
	*d = Date(t.UTC())
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(d))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	*d = Date(t)
	return nil
}

func (d Date) String() string {
	return time.Time(d).UTC().Format(dateLayout)
}

func (d Date) Time() time.Time {
	return time.Time(d)
}
