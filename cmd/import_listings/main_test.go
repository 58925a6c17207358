package main

import (
	"strings"
	"testing"

	"shareit/lending"
)

func TestImportListings(t *testing.T) {
	reg := lending.NewRegistry(lending.Options{Hasher: lending.PlainHasher{}, StartingCoins: 10})
	input := strings.Join([]string{
		"owner,password,name,category,condition,price,quantity,from,to",
		"alice,pw,Drill,tools,good,50,1,2024-01-01,2024-01-10",
		"bob,pw2,Tent,camping,used,20,2,2024-02-01,2024-02-05",
		"alice,pw,Ladder,tools,good,abc,1,2024-01-01,2024-01-10",
		"alice,wrong,Saw,tools,good,5,1,2024-01-01,2024-01-10",
		"bob,pw2,Stove,camping,good,5,0,2024-01-01,2024-01-10",
	}, "\n")

	ok, failed := importListings(reg, strings.NewReader(input))
	if ok != 2 || failed != 3 {
		t.Fatalf("imported %d, failed %d; want 2 and 3", ok, failed)
	}
	listings := reg.Listings()
	if len(listings) != 2 || listings[0].Name != "Drill" || listings[1].Owner != "bob" {
		t.Fatalf("unexpected listings %+v", listings)
	}
	if !reg.UserExists("alice") || !reg.UserExists("bob") {
		t.Fatalf("owners should be registered")
	}
}
