// Package models contains GORM persistence models. Domain entities stay free
// of ORM tags; each model converts with ToDomain / FromDomain.
//
// ledger.go holds the structured store tables, document.go the document
// store tables. The two sets live in separate databases.
package models
