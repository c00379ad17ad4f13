package notification

import (
	"context"
	"fmt"
	"log"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/internal/repository"
)

// Service dispatches FCM push notifications to room members who are not
// connected when a message lands.
type Service struct {
	client   *messaging.Client
	userRepo *repository.UserRepository
}

// NewService initializes Firebase messaging. Returns nil (not an error)
// when credentials are missing or invalid, so the server starts without
// push support instead of refusing to boot.
func NewService(credentialsFile string, userRepo *repository.UserRepository) (*Service, error) {
	if credentialsFile == "" {
		log.Println("firebase credentials not provided, push notifications disabled")
		return nil, nil
	}

	opt := option.WithCredentialsFile(credentialsFile)
	app, err := firebase.NewApp(context.Background(), nil, opt)
	if err != nil {
		log.Printf("failed to initialize Firebase app: %v (push notifications disabled)", err)
		return nil, nil
	}

	client, err := app.Messaging(context.Background())
	if err != nil {
		log.Printf("failed to get messaging client: %v", err)
		return nil, nil
	}

	log.Println("firebase FCM initialized")
	return &Service{client: client, userRepo: userRepo}, nil
}

// SendRoomMessage pushes a new-message notification to each recipient's
// registered devices. Recipients with notifications disabled or no devices
// are skipped; one recipient's failure does not stop the rest.
func (s *Service) SendRoomMessage(ctx context.Context, recipients []uuid.UUID, msg *model.Message) error {
	if s == nil || s.client == nil {
		return nil
	}

	body := msg.Content
	if body == "" {
		body = "Sent an attachment"
	}

	var firstErr error
	for _, userID := range recipients {
		if err := s.sendToUser(ctx, userID, msg, body); err != nil {
			log.Printf("push to user %s: %v", userID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Service) sendToUser(ctx context.Context, userID uuid.UUID, msg *model.Message, body string) error {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return err
	}
	if !user.IsNotificationEnabled {
		return nil
	}

	devices, err := s.userRepo.GetUserDevices(userID)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}

	tokens := make([]string, 0, len(devices))
	for _, d := range devices {
		tokens = append(tokens, d.FCMToken)
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Sender.Name,
			Body:  body,
		},
		Data: map[string]string{
			"type":        "new_message",
			"room_id":     msg.RoomID.String(),
			"message_id":  msg.ID.String(),
			"sender_name": msg.Sender.Name,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ClickAction: "FLUTTER_NOTIFICATION_CLICK",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound: "default",
				},
			},
		},
	}

	br, err := s.client.SendMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	if br.FailureCount > 0 {
		for idx, resp := range br.Responses {
			if !resp.Success {
				log.Printf("FCM failure for token %s: %v", tokens[idx], resp.Error)
			}
		}
	}

	return nil
}
