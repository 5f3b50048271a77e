// Package identity resolves the acting principal of a request: a
// registered user carrying a JWT, or a guest identified by a cookie
// minted on first contact.
package identity

import (
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/valmeras/chat-gateway/internal/auth"
	"github.com/valmeras/chat-gateway/internal/common"
	"github.com/valmeras/chat-gateway/internal/models"
)

const (
	GuestCookieName   = "guest_user_id"
	guestCookieMaxAge = 7 * 24 * time.Hour
)

type Kind string

const (
	KindRegistered Kind = "registered"
	KindGuest      Kind = "guest"
)

type Principal struct {
	ID   string
	Kind Kind
}

const principalKey = "identity.principal"

func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// guest-<ULID>
var guestIDPattern = regexp.MustCompile(`^guest-[0-9A-HJKMNP-TV-Z]{26}$`)

type Resolver struct {
	db            *gorm.DB
	jwtSecret     string
	secureCookies bool
}

func NewResolver(db *gorm.DB, jwtSecret string, secureCookies bool) *Resolver {
	return &Resolver{db: db, jwtSecret: jwtSecret, secureCookies: secureCookies}
}

// Middleware resolves a principal for every request. A valid bearer token
// wins; otherwise the guest cookie is reused or a fresh guest id is
// minted, provisioned, and set as a 7-day cookie.
func (r *Resolver) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if uid, ok := r.registeredUserID(c); ok {
			r.ensureUser(c, uid, false)
			c.Set(principalKey, Principal{ID: uid, Kind: KindRegistered})
			c.Next()
			return
		}

		guestID, fresh, err := r.guestID(c)
		if err != nil {
			common.FailErr(c, err)
			c.Abort()
			return
		}
		if fresh {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(GuestCookieName, guestID, int(guestCookieMaxAge.Seconds()),
				"/", "", r.secureCookies, true)
		}
		r.ensureUser(c, guestID, true)

		c.Set(principalKey, Principal{ID: guestID, Kind: KindGuest})
		c.Next()
	}
}

func (r *Resolver) registeredUserID(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	uid, err := auth.ParseJWT(strings.TrimPrefix(header, "Bearer "), r.jwtSecret)
	if err != nil {
		// Invalid tokens fall through to the guest flow rather than 401:
		// the chat endpoint is open to guests.
		return "", false
	}
	return uid, true
}

func (r *Resolver) guestID(c *gin.Context) (id string, fresh bool, err error) {
	if v, cerr := c.Cookie(GuestCookieName); cerr == nil && guestIDPattern.MatchString(v) {
		return v, false, nil
	}
	ulid, err := common.NewULID()
	if err != nil {
		return "", false, err
	}
	return "guest-" + ulid, true, nil
}

// ensureUser provisions the user row best-effort. Store failures are
// logged and do not abort the request; the principal id stays usable for
// the rest of the turn.
func (r *Resolver) ensureUser(c *gin.Context, id string, guest bool) {
	err := r.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.User{ID: id, Guest: guest}).Error
	if err != nil {
		log.Printf("[identity] provision user failed id=%s err=%v", id, err)
	}
}
