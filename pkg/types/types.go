package types

import (
	"time"
)

// User carries the capability flags resolved by the auth layer.
// The auction core only ever looks at IsAdmin and IsMember.
type User struct {
	ID          string `json:"id"`
	Nickname    string `json:"nickname"`
	DiscordID   string `json:"discordId,omitempty"`
	DiscordName string `json:"discordName,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
	IsMember    bool   `json:"isMember"`
}

// Item is one auctioned lot. CurrentBid and LastBidderNickname are a
// denormalized shadow of the bid ledger's running max; the ledger is
// the source of truth and the cache must always be reconcilable to it.
type Item struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	StartingPrice      int        `json:"startingPrice"`
	Quantity           int        `json:"quantity"`
	CurrentBid         int        `json:"currentBid"`
	LastBidderNickname *string    `json:"lastBidderNickname,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}

// Bid is one immutable ledger entry: a per-unit price for a requested
// quantity. Bids are never mutated after creation, only appended or
// deleted by an admin.
type Bid struct {
	ID                string    `json:"id"`
	ItemID            string    `json:"itemId"`
	BidAmount         int       `json:"bidAmount"`
	BidQuantity       int       `json:"bidQuantity"`
	BidderNickname    string    `json:"bidderNickname"`
	BidderDiscordID   *string   `json:"bidderDiscordId,omitempty"`
	BidderDiscordName *string   `json:"bidderDiscordName,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// WinningAllocation is one settlement row for a closed item. Derived
// from the ledger at close time, never persisted.
type WinningAllocation struct {
	BidID             string  `json:"bidId"`
	BidderNickname    string  `json:"bidderNickname"`
	BidderDiscordName *string `json:"bidderDiscordName,omitempty"`
	BidAmount         int     `json:"bidAmount"`
	QuantityUsed      int     `json:"quantityUsed"`
}

// CompletedItem pairs an ended item with its full ledger and the
// settlement computed from it, for reporting and export.
type CompletedItem struct {
	Item        Item                `json:"item"`
	BidHistory  []Bid               `json:"bidHistory"`
	WinningBids []WinningAllocation `json:"winningBids"`
}
