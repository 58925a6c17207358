package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"shareit/internal/config"
	"shareit/lending"

	"github.com/sirupsen/logrus"
)

// Expected CSV columns. A header row starting with "owner" is skipped.
const (
	colOwner = iota
	colPassword
	colName
	colCategory
	colCondition
	colPrice
	colQuantity
	colFrom
	colTo
	numColumns
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s listings.csv\n", os.Args[0])
		os.Exit(2)
	}

	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	var hasher lending.Hasher = lending.BcryptHasher{Cost: cfg.BcryptCost}
	if cfg.PlainPasswords {
		hasher = lending.PlainHasher{}
	}
	manager, err := lending.OpenManager(cfg.DBPath, lending.Options{
		Hasher:        hasher,
		StartingCoins: cfg.StartingCoins,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading listings file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	fmt.Printf("Importing listings from %s into %s...\n", os.Args[1], cfg.DBPath)
	successCount, errorCount := importListings(manager.Registry(), f)

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("Successfully imported: %d listings\n", successCount)
	fmt.Printf("Errors: %d\n", errorCount)

	if successCount == 0 {
		return
	}
	if err := manager.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving database: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nListings:")
	fmt.Printf("%-3s %-40s %-20s %-6s\n", "ID", "Name", "Owner", "Price")
	fmt.Println(strings.Repeat("-", 72))
	for i, l := range manager.Registry().Listings() {
		fmt.Printf("%-3d %-40s %-20s %-6d\n", i, truncateString(l.Name, 40), truncateString(l.Owner, 20), l.Price)
	}
}

// importListings adds one listing per CSV row, registering owners on first
// sight. It returns how many rows were imported and how many failed.
func importListings(reg *lending.Registry, r io.Reader) (successCount, errorCount int) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numColumns
	cr.TrimLeadingSpace = true

	for line := 1; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Printf("line %d: ERROR - %v\n", line, err)
			errorCount++
			continue
		}
		if line == 1 && strings.EqualFold(row[colOwner], "owner") {
			continue
		}

		fmt.Printf("Importing: %s from %s... ", row[colName], row[colOwner])

		if _, err := reg.AuthenticateOrRegister(row[colOwner], row[colPassword]); err != nil {
			fmt.Printf("ERROR - owner: %v\n", err)
			errorCount++
			continue
		}
		price, err := strconv.Atoi(row[colPrice])
		if err != nil {
			fmt.Printf("ERROR - price: %v\n", err)
			errorCount++
			continue
		}
		quantity, err := strconv.Atoi(row[colQuantity])
		if err != nil {
			fmt.Printf("ERROR - quantity: %v\n", err)
			errorCount++
			continue
		}
		id, err := reg.AddListing(strings.TrimSpace(row[colOwner]), lending.ListingInput{
			Name:      row[colName],
			Category:  row[colCategory],
			Condition: row[colCondition],
			Price:     price,
			Quantity:  quantity,
			FromDate:  row[colFrom],
			ToDate:    row[colTo],
		})
		if err != nil {
			fmt.Printf("ERROR - %v\n", err)
			errorCount++
			continue
		}

		fmt.Printf("SUCCESS (ID: %d)\n", id-1)
		successCount++
	}
	return successCount, errorCount
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
