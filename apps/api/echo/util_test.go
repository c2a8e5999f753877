package echoapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/billing"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/school"
	"github.com/tatuga-camp/server-main-tatugaschool-sub003/core/user"
	dummygw "github.com/tatuga-camp/server-main-tatugaschool-sub003/services/billing/dummy"
	logsvc "github.com/tatuga-camp/server-main-tatugaschool-sub003/services/logger"
	dummydb "github.com/tatuga-camp/server-main-tatugaschool-sub003/storage/database/dummy"
)

type testApp struct {
	server    Server
	gw        *dummygw.Gateway
	schoolSvc *school.Service
	usrSvc    *user.Service

	sch     school.School
	manager user.User
	teacher user.User
}

func initApp(t *testing.T) *testApp {
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("initApp() failed: %v", err)
	}

	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false
	conf.Stripe.BasicPriceID = "price_basic"
	conf.Stripe.PremiumPriceID = "price_premium"
	conf.Stripe.EnterprisePriceID = "price_ent"

	validate := validator.New()
	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	translator, _ := uni.GetTranslator(enLocale.Locale())
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	logger := logsvc.NewNopLogger()
	gw := dummygw.NewGateway()
	schoolSvc := school.NewService(dummydb.NewSchoolRepository(db), validate)
	usrSvc := user.NewService(dummydb.NewUserRepository(db), validate)
	catalog := school.NewCatalog(conf.Stripe)
	billingSvc := billing.NewService(gw, schoolSvc, usrSvc, catalog, conf.Stripe.PortalReturnURL, logger)
	reconciler := billing.NewReconciler(gw, schoolSvc, usrSvc, nil, logger)

	app := &testApp{
		gw:        gw,
		schoolSvc: schoolSvc,
		usrSvc:    usrSvc,
		server: NewServer(ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			SchoolSvc:  schoolSvc,
			BillingSvc: billingSvc,
			Reconciler: reconciler,
			Gateway:    gw,
			Validate:   validate,
			Translator: translator,
		}),
	}

	app.sch, err = schoolSvc.Create(school.NewSchool{Name: "Kivu High"})
	if err != nil {
		t.Fatalf("initApp() failed: %v", err)
	}
	app.manager = createUser(t, usrSvc, app.sch.ID, "manager@test.cd")
	app.teacher = createUser(t, usrSvc, app.sch.ID, "teacher@test.cd")
	if _, err = schoolSvc.SetBillingManager(app.sch.ID, app.manager.ID); err != nil {
		t.Fatalf("initApp() failed: %v", err)
	}
	return app
}

func createUser(t *testing.T, svc *user.Service, schoolID, email string) user.User {
	usr, err := svc.Create(user.NewUser{
		SchoolID:        schoolID,
		Name:            email,
		Email:           email,
		Password:        "LePassword",
		PasswordConfirm: "LePassword",
		Roles:           []string{user.RoleTeacher},
	})
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func getToken(t *testing.T, usr user.User) string {
	token, err := GenerateToken(GetUserClaims(usr))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marshallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marshallObj() failed: %v", err)
	}
	return data
}
