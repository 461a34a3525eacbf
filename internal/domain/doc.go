// Package domain holds the data contracts shared by the invoice engine and
// its collaborators: raw transactions and card metadata coming in, invoices,
// purchases and late charges going out, and the typed errors of both.
package domain
