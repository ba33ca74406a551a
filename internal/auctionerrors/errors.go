package auctionerrors

import "errors"

// Validation errors, caught before entering the serialized section.
var (
	ErrInvalidAmount = errors.New("bid amount must be a positive decimal")
	ErrUnauthorized  = errors.New("caller is not authenticated")
	ErrSelfBid       = errors.New("seller cannot bid on own auction")
)

// Business-rule rejections, expected outcomes of concurrent competition.
var (
	ErrBelowMinimum  = errors.New("bid amount below minimum acceptable")
	ErrAuctionClosed = errors.New("auction is no longer open")
	ErrHasBids       = errors.New("auction with bids cannot be cancelled")
	ErrNotOwner      = errors.New("requester is not the auction seller")
)

// Lookup errors.
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrProductNotFound = errors.New("product not found")
)
