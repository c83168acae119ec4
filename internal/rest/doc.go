// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package rest provides the HTTP API for passkey registration and login.
//
// The handlers are a thin transport layer over the ceremony engine: they
// decode requests, feed attempt outcomes into the guard, and translate
// engine errors into HTTP responses. Guard rejections are reported with
// distinct 429 codes; every verification failure collapses to one
// generic 401 so the API cannot be used as an oracle for which check
// rejected an attempt.
//
// Successful logins are answered with an HS256 session token; the
// /admin routes require that token as a bearer credential.
package rest
