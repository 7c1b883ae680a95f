// Package ratelimit enforces per-caller request budgets for the admin
// API. Counters live in the shared key-value store, so every replica
// draws from the same fixed window; budgets are keyed per tenant and
// client address. When the store cannot answer, the limiter follows its
// FailOpen setting.
package ratelimit
