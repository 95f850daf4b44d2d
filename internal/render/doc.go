// Package render substitutes {column_name} placeholders in a campaign
// template with per-recipient values.
//
// Substitution is literal: values are inserted as-is and never re-scanned,
// so crafted CSV content cannot inject further placeholders or expressions.
// Rendering fails closed: a placeholder with no matching variable is an
// error, never an empty string or the literal placeholder text.
package render
