package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/gridshare/gpu-cloud-service/db"
	"gitlab.com/gridshare/gpu-cloud-service/internal/config"
	"gitlab.com/gridshare/gpu-cloud-service/models"
)

const (
	googleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

// Profile is the verified identity returned by the provider after a
// successful code exchange.
type Profile struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// AuthorizationURL builds the provider login URL carrying a fresh
// anti-forgery state token.
func AuthorizationURL() (string, error) {
	state, err := NewStateToken()
	if err != nil {
		return "", err
	}

	oauth := config.GetConfig().OAuth
	params := url.Values{}
	params.Set("client_id", oauth.ClientID)
	params.Set("redirect_uri", oauth.RedirectURI)
	params.Set("scope", "openid email profile")
	params.Set("response_type", "code")
	params.Set("state", state)
	params.Set("access_type", "offline")
	params.Set("prompt", "select_account")

	return googleAuthURL + "?" + params.Encode(), nil
}

// ExchangeCode verifies the state token, exchanges the authorization code
// for an access token, and fetches the user's profile. State verification
// happens first: a tampered or expired state never reaches the network.
func ExchangeCode(ctx context.Context, code, state string) (*Profile, error) {
	if err := VerifyStateToken(state); err != nil {
		return nil, err
	}

	oauth := config.GetConfig().OAuth
	form := url.Values{}
	form.Set("client_id", oauth.ClientID)
	form.Set("client_secret", oauth.ClientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", oauth.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, googleTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token exchange failed: %s", string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("no access token received from provider")
	}

	return fetchProfile(ctx, tokenResp.AccessToken)
}

func fetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch user information from provider")
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	if profile.ID == "" || profile.Email == "" {
		return nil, fmt.Errorf("insufficient user information from provider")
	}
	return &profile, nil
}

// UpsertUser creates or refreshes the local user row from a verified
// profile. New accounts default to the renter role.
func UpsertUser(profile *Profile) (*models.User, error) {
	var user models.User
	err := db.DB.Where("id = ?", profile.ID).First(&user).Error
	if err == nil {
		user.Email = profile.Email
		user.Username = displayName(profile)
		if profile.GivenName != "" {
			user.FirstName = profile.GivenName
		}
		if profile.FamilyName != "" {
			user.LastName = profile.FamilyName
		}
		if profile.Picture != "" {
			user.ProfileImageURL = profile.Picture
		}
		if err := db.DB.Save(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}

	user = models.User{
		ID:              profile.ID,
		Email:           profile.Email,
		Username:        displayName(profile),
		FirstName:       profile.GivenName,
		LastName:        profile.FamilyName,
		ProfileImageURL: profile.Picture,
		OauthProvider:   "google",
		Role:            models.RoleRenter,
		ActiveRole:      models.RoleRenter,
		IsRenter:        true,
		IsActive:        true,
	}
	if err := db.DB.Create(&user).Error; err != nil {
		return nil, err
	}
	zlog.Sugar().Infof("new user registered: %s", user.Email)
	return &user, nil
}

func displayName(profile *Profile) string {
	if profile.Name != "" {
		return profile.Name
	}
	return strings.Split(profile.Email, "@")[0]
}
