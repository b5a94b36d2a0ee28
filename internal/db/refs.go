// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package db

// BeanID is an ID into the beans table. This typedef is used to distinguish
// these IDs from IDs of other tables or raw int64 values.
type BeanID int64

// OriginID is an ID into the origins table. This typedef is used to
// distinguish these IDs from IDs of other tables or raw int64 values.
type OriginID int64
