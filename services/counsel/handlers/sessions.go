// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clauselens/clauselens/services/counsel/datatypes"
	"github.com/clauselens/clauselens/services/counsel/sessionstore"
)

// ListSessions serves GET /chat/sessions for the calling user, most recently
// updated first.
func ListSessions(store sessionstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		sessions, err := store.ListSessions(c.Request.Context(), userIDFrom(c), limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if sessions == nil {
			sessions = []datatypes.ChatSession{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": sessions})
	}
}

// GetSessionHistory serves GET /chat/sessions/:sessionId.
func GetSessionHistory(store sessionstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		session, err := store.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			abortWithError(c, err)
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		messages, err := store.RecentMessages(c.Request.Context(), sessionID, limit)
		if err != nil {
			abortWithError(c, err)
			return
		}
		if messages == nil {
			messages = []datatypes.ChatMessage{}
		}
		c.JSON(http.StatusOK, gin.H{
			"session":  session,
			"messages": messages,
		})
	}
}

// DeleteSession serves DELETE /chat/sessions/:sessionId. The session's
// messages go with it; deleting a missing session succeeds.
func DeleteSession(store sessionstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.DeleteSession(c.Request.Context(), c.Param("sessionId")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
	}
}
