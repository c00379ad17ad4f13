package main

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/collabworks/officechat/internal/config"
	"github.com/collabworks/officechat/internal/model"
	"github.com/collabworks/officechat/pkg/auth"
)

var departments = []struct {
	Name  string
	Title string
}{
	{"Engineering", "Software Engineer"},
	{"Engineering", "Platform Engineer"},
	{"Product", "Product Manager"},
	{"Design", "UX Designer"},
	{"Sales", "Account Executive"},
	{"Marketing", "Content Lead"},
	{"HR", "People Partner"},
	{"Finance", "Controller"},
	{"Engineering", "SRE"},
	{"Product", "Data Analyst"},
}

func main() {
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	log.Println("connected to database")

	// One shared password for every seeded user
	password := "password123"
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	log.Println("seeding 10 users...")
	var users []model.User
	for i := 1; i <= 10; i++ {
		email := fmt.Sprintf("user%d@officechat.local", i)

		var existing model.User
		if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
			users = append(users, existing)
			continue
		}

		dept := departments[(i-1)%len(departments)]
		user := model.User{
			ID:         uuid.New(),
			Name:       fmt.Sprintf("User Number %d", i),
			Email:      email,
			Password:   string(hashedPassword),
			Department: dept.Name,
			Title:      dept.Title,
			Avatar:     fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=user%d", i),
		}

		if err := db.Create(&user).Error; err != nil {
			log.Printf("failed to create user %s: %v", email, err)
			continue
		}
		users = append(users, user)

		token, err := jwtManager.GenerateToken(user.ID, user.Email, user.Name)
		if err == nil {
			log.Printf("created user: %s | pass: %s | token: %s", email, password, token)
		} else {
			log.Printf("created user: %s | pass: %s", email, password)
		}
	}

	seedRooms(db, users)
	log.Println("seeding completed")
}

// seedRooms creates the company-wide public room and one project room so a
// fresh install has somewhere to talk.
func seedRooms(db *gorm.DB, users []model.User) {
	if len(users) < 4 {
		return
	}
	owner := users[0]

	var count int64
	db.Model(&model.Room{}).Where("name = ?", "General").Count(&count)
	if count > 0 {
		return
	}

	now := time.Now()

	general := model.Room{
		ID:             uuid.New(),
		Name:           "General",
		Description:    "Company-wide announcements and chatter",
		Type:           model.RoomTypePublic,
		CreatorID:      owner.ID,
		IsPublic:       true,
		LastActivityAt: now,
	}
	general.Normalize(now)
	if err := db.Create(&general).Error; err != nil {
		log.Printf("failed to create General room: %v", err)
		return
	}
	for _, u := range users[1:] {
		db.Create(&model.RoomMember{
			RoomID:   general.ID,
			UserID:   u.ID,
			Role:     model.RoleMember,
			JoinedAt: now,
			IsActive: true,
		})
	}

	welcome := model.Message{
		ID:       uuid.New(),
		RoomID:   general.ID,
		SenderID: owner.ID,
		Content:  "Welcome to OfficeChat!",
		Type:     model.MessageTypeText,
	}
	if err := db.Create(&welcome).Error; err == nil {
		db.Model(&model.Room{}).Where("id = ?", general.ID).
			Updates(map[string]interface{}{"last_message_id": welcome.ID, "last_activity_at": now})
	}

	project := model.Room{
		ID:             uuid.New(),
		Name:           "Website Relaunch",
		Description:    "Cross-team project room",
		Type:           model.RoomTypeProject,
		CreatorID:      owner.ID,
		LastActivityAt: now,
	}
	project.Normalize(now)
	if err := db.Create(&project).Error; err != nil {
		log.Printf("failed to create project room: %v", err)
		return
	}
	for _, u := range users[1:4] {
		db.Create(&model.RoomMember{
			RoomID:   project.ID,
			UserID:   u.ID,
			Role:     model.RoleMember,
			JoinedAt: now,
			IsActive: true,
		})
	}

	log.Println("created rooms: 'General' (public) and 'Website Relaunch' (project)")
}
