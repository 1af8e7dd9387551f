package portal

const loginMutation = `mutation signinUser($username: String!, $password: String!) {
	login(username: $username, password: $password)
}`

const testTokenQuery = `query TestToken {
	getGUI {
		user { id username }
	}
}`

const userInfoQuery = `query GetUserInfo {
	getGUI {
		user { id firstname lastname fullname email username }
	}
}`

const gradesQuery = `query getPage($name: String!, $params: [PageParam!]) {
	getPage(name: $name, params: $params) {
		panels {
			blocks { title body }
		}
	}
}`

// gradesPageName is the portal page that renders a term's grade tables.
const gradesPageName = "test_student_tracks"

// graphqlRequest is the JSON body sent to the portal endpoints.
type graphqlRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Data struct {
		Login *string `json:"login"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type portalUser struct {
	ID        any    `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	FullName  string `json:"fullname"`
	Email     string `json:"email"`
}

type userResponse struct {
	Data struct {
		GetGUI *struct {
			User *portalUser `json:"user"`
		} `json:"getGUI"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

type pageResponse struct {
	Data struct {
		GetPage *struct {
			Panels []struct {
				Blocks []struct {
					Title string `json:"title"`
					Body  string `json:"body"`
				} `json:"blocks"`
			} `json:"panels"`
		} `json:"getPage"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}
