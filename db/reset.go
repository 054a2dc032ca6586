package db

import (
	"golang.org/x/sync/errgroup"
)

// Seed is a baseline document restored by Reset.
type Seed struct {
	Name string
	Data string
}

// Seeds are written verbatim by Reset.
var Seeds = []Seed{
	{
		Name: "andrew.json",
		Data: `{"firstname":"Andrew","lastname":"Maney","email":"amaney@example.com"}`,
	},
	{
		Name: "scott.json",
		Data: `{"firstname":"Scott","lastname":"Roberts","email":"sroberts@example.com","username":"scoot"}`,
	},
	{
		Name: "post.json",
		Data: `{"title":"Async/Await lesson","description":"How to write asynchronous JavaScript","date":"July 15, 2019"}`,
	},
}

// Reset rewrites the seed documents and empties the audit log. Other
// documents are left alone. A successful reset leaves no log entry.
func (d *DB) Reset() (string, error) {
	names := make([]string, len(Seeds))
	for i, s := range Seeds {
		names[i] = s.Name
	}
	unlock := d.locks.acquire(nil, names)
	defer unlock()

	var g errgroup.Group
	for _, s := range Seeds {
		g.Go(func() error {
			return d.store.Write(s.Name, []byte(s.Data))
		})
	}
	g.Go(d.log.Truncate)
	if err := g.Wait(); err != nil {
		return d.fail("ERROR unable to reset", &Error{Op: "reset", Kind: ErrStorage, Err: err})
	}
	return "database reset", nil
}
